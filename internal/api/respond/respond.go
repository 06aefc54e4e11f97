// Package respond writes uniform JSON envelopes for API responses.
package respond

import (
	"encoding/json"
	"net/http"

	"github.com/wb-go/wbf/zlog"
)

// Response wraps a successful result.
type Response struct {
	Result interface{} `json:"result"`
}

// ErrorResponse wraps an error message.
type ErrorResponse struct {
	Error string `json:"error"`
}

// JSON writes v as a JSON body with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to encode response")
	}
}

// OK writes a 200 response with the result envelope.
func OK(w http.ResponseWriter, result interface{}) {
	JSON(w, http.StatusOK, Response{Result: result})
}

// Created writes a 201 response with the result envelope.
func Created(w http.ResponseWriter, result interface{}) {
	JSON(w, http.StatusCreated, Response{Result: result})
}

// Fail writes an error response with the given status code.
func Fail(w http.ResponseWriter, status int, err error) {
	JSON(w, status, ErrorResponse{Error: err.Error()})
}
