// Package models defines the core data structures for LeadPipe.
//
// It includes the inbound chat events, the lead record handed to delivery, delivery outcomes, and
// the JSON envelope used by the HTTP API. These types are shared across modules.
package models

// APIStatus is the status field of every API response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse is the JSON envelope returned by every API endpoint.
type APIResponse struct {
	Status  APIStatus   `json:"status"`
	Message string      `json:"message,omitempty"` // set on errors
	Result  interface{} `json:"result,omitempty"`
}

// HealthStatus is the result of GET /health.
type HealthStatus struct {
	Timestamp      string `json:"timestamp"`
	ActiveSessions *int   `json:"active_sessions,omitempty"`
}

// Success wraps result in an ok envelope.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Result: result}
}

// Error builds an error envelope carrying message.
func Error(message string) APIResponse {
	return APIResponse{Status: APIStatusError, Message: message}
}
