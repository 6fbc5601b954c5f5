package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
	"max.ks1230/grants-portal/internal/logger"
	"max.ks1230/grants-portal/internal/model/customerr"
)

type response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Kind    string      `json:"kind,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func statusOf(kind customerr.Kind) int {
	switch kind {
	case customerr.MissingField, customerr.UploadRejected:
		return http.StatusBadRequest
	case customerr.Unauthorized:
		return http.StatusUnauthorized
	case customerr.UserNotFound, customerr.NotFound:
		return http.StatusNotFound
	case customerr.ConcurrencyConflict, customerr.AlreadyExists:
		return http.StatusConflict
	case customerr.ChargeMismatch, customerr.InsufficientBalance:
		return http.StatusUnprocessableEntity
	case customerr.PersistenceFailure:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to write response", zap.Error(err))
	}
}

func writeOK(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, response{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	kind := customerr.KindOf(err)
	status := statusOf(kind)
	message := customerr.Reason(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
		if kind == "" {
			message = "Server error. Please try again later."
		}
	}
	writeJSON(w, status, response{Success: false, Message: message, Kind: string(kind)})
}

func writeStatus(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, response{Success: false, Message: message})
}

func denyUnauthorized(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnauthorized, response{
		Success: false,
		Message: message,
		Kind:    string(customerr.Unauthorized),
	})
}
