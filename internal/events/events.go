// Package events defines the activity records published on the Kafka topic
// and how the worker applies them.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type Type string

const (
	AccountCreated Type = "account.created"
	AccountSeen    Type = "account.seen"
	PostCreated    Type = "post.created"
	FollowCreated  Type = "follow.created"
	FollowRemoved  Type = "follow.removed"
)

var ErrUnknownType = errors.New("events: unknown event type")

func (t Type) valid() bool {
	switch t {
	case AccountCreated, AccountSeen, PostCreated, FollowCreated, FollowRemoved:
		return true
	}
	return false
}

// Event is one activity record. TargetID is the followed account for follow
// events and the post for post.created.
type Event struct {
	Type      Type       `json:"type"`
	AccountID uuid.UUID  `json:"account_id"`
	TargetID  *uuid.UUID `json:"target_id,omitempty"`
	At        time.Time  `json:"at"`
}

func Created(accountID uuid.UUID, at time.Time) Event {
	return Event{Type: AccountCreated, AccountID: accountID, At: at.UTC()}
}

func Seen(accountID uuid.UUID, at time.Time) Event {
	return Event{Type: AccountSeen, AccountID: accountID, At: at.UTC()}
}

func Posted(authorID, postID uuid.UUID, at time.Time) Event {
	return Event{Type: PostCreated, AccountID: authorID, TargetID: &postID, At: at.UTC()}
}

func Followed(followerID, followedID uuid.UUID, at time.Time) Event {
	return Event{Type: FollowCreated, AccountID: followerID, TargetID: &followedID, At: at.UTC()}
}

func Unfollowed(followerID, followedID uuid.UUID, at time.Time) Event {
	return Event{Type: FollowRemoved, AccountID: followerID, TargetID: &followedID, At: at.UTC()}
}

// Message encodes e as JSON keyed by its type.
func (e Event) Message() (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{Key: []byte(e.Type), Value: value, Time: e.At}, nil
}

// Decode parses a message value produced by Message.
func Decode(value []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(value, &e); err != nil {
		return Event{}, fmt.Errorf("events: invalid payload: %w", err)
	}
	if !e.Type.valid() {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	if e.AccountID == uuid.Nil {
		return Event{}, errors.New("events: missing account_id")
	}
	return e, nil
}

// Writer is the publishing half of the broker.
type Writer interface {
	WriteMessages(messages ...kafka.Message) error
}

// Publish encodes evts and writes them in one call.
func Publish(w Writer, evts ...Event) error {
	msgs := make([]kafka.Message, 0, len(evts))
	for _, e := range evts {
		msg, err := e.Message()
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return w.WriteMessages(msgs...)
}

// Toucher is the part of the account store events act on.
type Toucher interface {
	TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Apply performs the storage side effect of e. Only account.seen has one;
// the other types are for downstream consumers and report handled=false.
func Apply(ctx context.Context, st Toucher, e Event) (handled bool, err error) {
	switch e.Type {
	case AccountSeen:
		return true, st.TouchLastSeen(ctx, e.AccountID, e.At)
	default:
		return false, nil
	}
}
