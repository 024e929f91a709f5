// Package httputil translates domain errors into JSON HTTP responses so
// handlers stay free of status-code mapping tables.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "khural/pkg/domain-errors"
)

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteJSON writes v with the given status. Encoding failures are silently
// dropped: the status line is already on the wire.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a coded domain error to its HTTP status. Internal error
// detail never reaches the client.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := errorBody{Error: errorName(code)}
	if code != dErrors.CodeInternal {
		body.Description = err.Error()
	}
	WriteJSON(w, statusOf(code), body)
}

func statusOf(code dErrors.Code) int {
	switch code {
	case dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeMembership:
		return http.StatusForbidden
	case dErrors.CodeInsufficientFunds:
		return http.StatusUnprocessableEntity
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeConfiguration:
		return http.StatusServiceUnavailable
	case dErrors.CodeExternalLedger:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorName(code dErrors.Code) string {
	switch code {
	case dErrors.CodeInvalidInput:
		return "invalid_input"
	case dErrors.CodeNotFound:
		return "not_found"
	case dErrors.CodeMembership:
		return "membership_required"
	case dErrors.CodeInsufficientFunds:
		return "insufficient_funds"
	case dErrors.CodeConflict:
		return "conflict"
	case dErrors.CodeConfiguration:
		return "configuration"
	case dErrors.CodeExternalLedger:
		return "external_ledger"
	default:
		return "internal_error"
	}
}
