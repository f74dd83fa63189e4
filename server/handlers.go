package server

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/vitwit/x402-facilitator/analytics"
	"github.com/vitwit/x402-facilitator/types"
	"github.com/vitwit/x402-facilitator/utils"
)

const (
	stageVerification = "verification"
	stageBroadcast    = "broadcast"
)

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	log := s.requestLogger(r)
	s.capture(r, analytics.EventVerifyRequest, nil)

	payload, perr := readPayload(r)
	if perr != nil {
		s.capture(r, analytics.EventVerifyFailure, map[string]any{
			"errorCode":    perr.Code,
			"errorMessage": perr.Message,
		})
		writeJSON(w, perr.status(), types.VerifyResponse{
			IsValid:       false,
			InvalidReason: perr.Reason(),
			RequestID:     reqID,
		})
		return
	}

	result, err := s.fac.Verify(r.Context(), payload)
	if err != nil {
		ve := types.AsVerificationError(err, types.ErrInvalidTransaction)

		ip := s.proxies.clientIP(r)
		if ve.Code == types.ErrInvalidTransaction &&
			!s.addrGate.Allow(r.Context(), "addr:"+strings.ToLower(ip)) {
			log.Warn("repeated invalid transactions", map[string]any{"ip": ip})
			s.capture(r, analytics.EventVerifyFailure, map[string]any{
				"errorCode":    types.ErrRateLimited,
				"errorMessage": repeatedInvalidReason,
			})
			writeJSON(w, http.StatusTooManyRequests, types.VerifyResponse{
				IsValid:       false,
				InvalidReason: repeatedInvalidReason,
				RequestID:     reqID,
			})
			return
		}

		s.capture(r, analytics.EventVerifyFailure, map[string]any{
			"errorCode":    ve.Code,
			"errorMessage": ve.Message,
		})
		writeJSON(w, http.StatusBadRequest, types.VerifyResponse{
			IsValid:       false,
			InvalidReason: ve.Reason(),
			RequestID:     reqID,
		})
		return
	}

	payer := result.Payer.Hex()
	log.Info("payment verified", map[string]any{"payer": payer})
	s.capture(r, analytics.EventVerifySuccess, map[string]any{
		"payer":  payer,
		"amount": transferAmount(result, &payload.Accepted),
		"asset":  payload.Accepted.Asset,
		"payTo":  payload.Accepted.PayTo,
	})
	writeJSON(w, http.StatusOK, types.VerifyResponse{
		IsValid:   true,
		Payer:     payer,
		RequestID: reqID,
	})
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	network := s.fac.Network().String()
	log := s.requestLogger(r)
	s.capture(r, analytics.EventSettleRequest, map[string]any{"network": network})

	fail := func(status int, ve *types.VerificationError, stage string) {
		s.capture(r, analytics.EventSettleFailure, map[string]any{
			"network":      network,
			"errorCode":    ve.Code,
			"errorMessage": ve.Message,
			"stage":        stage,
		})
		writeJSON(w, status, types.SettleResponse{
			Success:     false,
			ErrorReason: ve.Reason(),
			Transaction: "",
			Network:     network,
			RequestID:   reqID,
		})
	}

	payload, perr := readPayload(r)
	if perr != nil {
		fail(perr.status(), perr.VerificationError, stageVerification)
		return
	}

	result, err := s.fac.Settle(r.Context(), payload)
	if err != nil {
		ve := types.AsVerificationError(err, types.ErrBroadcastFailed)
		if ve.Code == types.ErrBroadcastFailed {
			log.Error("settlement broadcast failed", map[string]any{"error": ve.Message})
			fail(http.StatusInternalServerError, ve, stageBroadcast)
			return
		}
		fail(http.StatusBadRequest, ve, stageVerification)
		return
	}

	payer := result.Payer.Hex()
	txHash := result.Transaction.Hex()
	log.Info("payment settled", map[string]any{"payer": payer, "tx": txHash})
	s.capture(r, analytics.EventSettleSuccess, map[string]any{
		"network":         network,
		"payer":           payer,
		"transactionHash": txHash,
		"amount":          utils.FormatAmount(amountOf(payload), decimalsOf(&payload.Accepted)),
		"asset":           payload.Accepted.Asset,
		"payTo":           payload.Accepted.PayTo,
	})
	writeJSON(w, http.StatusOK, types.SettleResponse{
		Success:     true,
		Payer:       payer,
		Transaction: txHash,
		Network:     result.Network,
		RequestID:   reqID,
	})
}

func (s *Server) handleSupported(w http.ResponseWriter, r *http.Request) {
	s.capture(r, analytics.EventSupportedQuery, map[string]any{
		"network": s.fac.Network().String(),
	})
	writeJSON(w, http.StatusOK, s.fac.Supported())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.capture(r, analytics.EventHealthCheck, nil)
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:    "ok",
		Timestamp: s.now().UTC().Format(time.RFC3339),
		RequestID: RequestIDFromContext(r.Context()),
		Facilitator: types.FacilitatorInfo{
			Address: s.fac.FeePayer().Hex(),
			RPCURL:  s.rpcURL,
		},
	})
}

func (s *Server) capture(r *http.Request, event string, extra map[string]any) {
	rc := analytics.RequestContextFrom(r)
	props := rc.Properties(extra)
	props["requestId"] = RequestIDFromContext(r.Context())
	s.analytics.Capture(r.Context(), rc.DistinctID(), event, props)
}

// payloadError is a request body that could not be decoded or validated.
type payloadError struct {
	*types.VerificationError
	code int
}

func (e *payloadError) status() int {
	if e.code == 0 {
		return http.StatusBadRequest
	}
	return e.code
}

func readPayload(r *http.Request) (*types.PaymentPayload, *payloadError) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return nil, &payloadError{
			VerificationError: types.NewVerificationError(types.ErrInvalidPayload,
				"Content-Type must be application/json"),
			code: http.StatusUnsupportedMediaType,
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &payloadError{
				VerificationError: types.NewVerificationError(types.ErrInvalidPayload,
					"request body exceeds %d bytes", tooLarge.Limit),
				code: http.StatusRequestEntityTooLarge,
			}
		}
		return nil, &payloadError{VerificationError: types.NewVerificationError(types.ErrInvalidPayload,
			"failed to read request body: %v", err)}
	}

	payload, err := utils.ParsePaymentPayload(body)
	if err != nil {
		return nil, &payloadError{VerificationError: types.NewVerificationError(types.ErrInvalidPayload,
			"%s", payloadMessage(err))}
	}
	return payload, nil
}

func payloadMessage(err error) string {
	var xe *types.X402Error
	if errors.As(err, &xe) {
		return xe.Message
	}
	return fmt.Sprint(err)
}

func transferAmount(result *types.VerifyResult, req *types.PaymentRequirements) string {
	if result.Transfer == nil {
		return req.Amount
	}
	return utils.FormatAmount(result.Transfer.Amount, decimalsOf(req))
}

func amountOf(p *types.PaymentPayload) *big.Int {
	n, ok := new(big.Int).SetString(p.Accepted.Amount, 10)
	if !ok {
		return nil
	}
	return n
}

func decimalsOf(req *types.PaymentRequirements) *int {
	if req.Extra == nil {
		return nil
	}
	return req.Extra.Decimals
}
