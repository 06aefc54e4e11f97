// Package dto defines the request bodies the API accepts.
package dto

// SaveSessionRequest is the body for saving today's reading.
type SaveSessionRequest struct {
	Memo string `json:"memo" validate:"max=2000"`
}
