package session

import "time"

// CreateRequest is the onboarding payload that starts a practice session.
type CreateRequest struct {
	UserID          string   `json:"user_id"`
	CustomerProfile string   `json:"customer_profile"`
	Objectives      []string `json:"objectives"`
}

// CreateResponse returns the created practice session.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	CustomerProfile string    `json:"customer_profile"`
	Objectives      []string  `json:"objectives"`
	CreatedAt       time.Time `json:"created_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
