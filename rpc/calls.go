package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/holiman/uint256"

	"poolescrow/core/promise"
	"poolescrow/core/runtime"
	"poolescrow/native/bank"
	"poolescrow/native/escrow"
)

const callGas = 300 * promise.TGas

// Invoker submits calls to the host runtime.
type Invoker interface {
	Call(ctx context.Context, caller [20]byte, call promise.Call) ([]byte, error)
}

// CallRequest is the body of POST /escrow/calls.
type CallRequest struct {
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
	// Attached is a decimal amount moved from the caller with the call.
	Attached string `json:"attached,omitempty"`
}

// CallResponse carries the handler's JSON result.
type CallResponse struct {
	Result json.RawMessage `json:"result"`
}

// CallError reports a rejected call with its machine code.
type CallError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) SubmitCall(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	var req CallRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	req.Method = strings.TrimSpace(req.Method)
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, "method required")
		return
	}
	if req.Method == escrow.MethodOnDelegateCallback {
		writeError(w, http.StatusForbidden, "method reserved for the escrow account")
		return
	}
	attached := new(uint256.Int)
	if raw := strings.TrimSpace(req.Attached); raw != "" {
		parsed, err := uint256.FromDecimal(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid attached amount")
			return
		}
		attached = parsed
	}

	out, err := s.invoker.Call(r.Context(), caller, promise.NewCall(s.escrowAccount, req.Method, req.Args, attached, callGas))
	if err != nil {
		status := callErrorStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.ErrorContext(r.Context(), "escrow call failed",
				slog.String("method", req.Method),
				slog.Any("error", err))
		}
		writeJSON(w, status, CallError{Error: err.Error(), Code: string(escrow.CodeOf(err))})
		return
	}
	if len(out) == 0 {
		out = []byte("null")
	}
	writeJSON(w, http.StatusOK, CallResponse{Result: out})
}

func callErrorStatus(err error) int {
	switch escrow.CodeOf(err) {
	case escrow.CodeUnknownMethod, escrow.CodeInvalidArguments, escrow.CodeDepositShouldNotBeZero:
		return http.StatusBadRequest
	case escrow.CodeOwnerShouldNotDeposit, escrow.CodeCallbackUnauthorized:
		return http.StatusForbidden
	case escrow.CodeNotInitialized:
		return http.StatusNotFound
	case escrow.CodeDepositNotAllowed, escrow.CodeDepositExceedsHeadroom, escrow.CodeWithdrawalNotAllowed,
		escrow.CodeDelegateNotAllowed, escrow.CodeDelegationPending, escrow.CodeInvalidName, escrow.CodeTotalFundsOverflow,
		escrow.CodeAlreadyDelegated, escrow.CodeArithmeticOverflow:
		return http.StatusConflict
	}
	if errors.Is(err, runtime.ErrUnknownTarget) {
		return http.StatusNotFound
	}
	if errors.Is(err, bank.ErrInsufficientBalance) {
		return http.StatusPaymentRequired
	}
	return http.StatusInternalServerError
}
