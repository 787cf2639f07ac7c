package models

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor marks a position in feed order: Created descending, then ID descending.
type Cursor struct {
	Created time.Time
	ID      uuid.UUID
}

// CursorOf returns the position of p.
func CursorOf(p Post) *Cursor {
	return &Cursor{Created: p.Created, ID: p.ID}
}

// Precedes reports whether a is shown before b in a feed.
// Post ids are UUIDv7, so byte order follows allocation order and breaks
// timestamp ties deterministically.
func Precedes(a, b Post) bool {
	if !a.Created.Equal(b.Created) {
		return a.Created.After(b.Created)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) > 0
}

// Admits reports whether p lies strictly after the cursor. A nil cursor admits everything.
func (c *Cursor) Admits(p Post) bool {
	if c == nil {
		return true
	}
	return Precedes(Post{Created: c.Created, ID: c.ID}, p)
}

// Encode renders the cursor as an opaque URL-safe token.
func (c *Cursor) Encode() string {
	if c == nil {
		return ""
	}
	raw := strconv.FormatInt(c.Created.UnixNano(), 10) + "." + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by Encode. An empty token yields a nil cursor.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(raw), ".")
	if !ok {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	pid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{Created: time.Unix(0, n).UTC(), ID: pid}, nil
}
