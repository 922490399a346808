package models

import (
	"time"

	"github.com/google/uuid"
)

// Profile is the public display data of a user managed by the identity provider.
type Profile struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	CreatedAt time.Time `json:"created_at"`
}
