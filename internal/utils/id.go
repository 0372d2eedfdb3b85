package utils

import "github.com/google/uuid"

// NewID returns a random unique identifier for connections and name claims.
func NewID() string {
	return uuid.NewString()
}

// ShortID returns the first 8 characters of id for log output.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
