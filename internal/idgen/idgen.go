package idgen

import (
	"github.com/google/uuid"
)

// PrefixSession prefixes all session IDs
const PrefixSession = "sess_"

// NewSession generates a new session ID with sess_ prefix
func NewSession() string {
	return PrefixSession + uuid.New().String()
}

// New generates a generic UUID without prefix (request IDs and the like)
func New() string {
	return uuid.New().String()
}
