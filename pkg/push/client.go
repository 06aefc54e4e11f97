// Package push provides a client for the Expo push notification API.
//
// It sends a single notification per request and reports Expo-level
// delivery errors as Go errors, so callers can retry.
package push

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultEndpoint = "https://exp.host/--/api/v2/push/send"

// Client represents an Expo push client.
type Client struct {
	endpoint string
	client   *http.Client
}

// NewClient creates a new push Client. An empty endpoint uses the public
// Expo API.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	return &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Notification is a single push message.
type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// sendRequest represents the payload for the Expo push API.
type sendRequest struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Sound string            `json:"sound"`
	Data  map[string]string `json:"data,omitempty"`
}

type sendResponse struct {
	Data struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"data"`
}

// Send sends a notification to the given Expo push token.
func (c *Client) Send(to string, n Notification) error {
	reqBody := sendRequest{
		To:    to,
		Title: n.Title,
		Body:  n.Body,
		Sound: "default",
		Data:  n.Data,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.client.Post(c.endpoint, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("expo API error: %s", resp.Status)
	}

	var sr sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if sr.Data.Status == "error" {
		return fmt.Errorf("expo delivery error: %s", sr.Data.Message)
	}

	return nil
}
