package verification

import (
	"time"

	"github.com/vitwit/x402-facilitator/types"
)

const isoMillis = "2006-01-02T15:04:05.000Z"

// ValidateTimeout rejects payloads older than maxTimeoutSeconds. Payloads
// without createdAt are not checked.
func ValidateTimeout(createdAt *int64, maxTimeoutSeconds int, now time.Time) error {
	if createdAt == nil {
		return nil
	}

	nowSec := now.Unix()
	if nowSec <= *createdAt {
		return nil
	}
	// Unsigned so the distance cannot overflow for extreme createdAt.
	elapsed := uint64(nowSec) - uint64(*createdAt)
	if maxTimeoutSeconds < 0 || elapsed > uint64(maxTimeoutSeconds) {
		expiresAt := *createdAt + int64(maxTimeoutSeconds)
		return types.NewVerificationError(types.ErrTimeoutExceeded,
			"Payment expired at %s, current time is %s",
			time.Unix(expiresAt, 0).UTC().Format(isoMillis),
			time.Unix(nowSec, 0).UTC().Format(isoMillis))
	}
	return nil
}
