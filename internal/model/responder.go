package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NormalizeEmail folds an address to its stored form. Every writer and
// every lookup goes through this so the case-insensitive natural key
// holds no matter where the address came from.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Responder is a vendor eligible to reply to requests. Email is the
// natural key, unique case-insensitively.
type Responder struct {
	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	Specialization string    `json:"specialization,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
