package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxPostRunes bounds post bodies and profile blurbs.
const MaxPostRunes = 140

type Account struct {
	ID         uuid.UUID `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email,omitempty"`
	Credential []byte    `json:"-"`
	AboutMe    string    `json:"about_me"`
	LastSeen   time.Time `json:"last_seen"`
	CreatedAt  time.Time `json:"created_at"`
}

type Post struct {
	ID       uuid.UUID `json:"id"`
	AuthorID uuid.UUID `json:"author_id"`
	Body     string    `json:"body"`
	Created  time.Time `json:"created"`
}

type Follow struct {
	FollowerID uuid.UUID `json:"follower_id"`
	FollowedID uuid.UUID `json:"followed_id"`
}

// ProfileUpdate carries the optional fields of a profile edit. Nil means unchanged.
type ProfileUpdate struct {
	Username *string `json:"username,omitempty"`
	AboutMe  *string `json:"about_me,omitempty"`
}

// Page selects a window of a newest-first post sequence.
type Page struct {
	Before *Cursor // exclusive; nil starts at the newest post
	Limit  int
}
