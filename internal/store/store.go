package store

import (
	"context"
	"errors"
	"time"

	"example.com/microblog/internal/models"
	"github.com/google/uuid"
)

var (
	ErrDuplicateUsername  = errors.New("store: username already taken")
	ErrUnknownAccount     = errors.New("store: unknown account")
	ErrSelfFollow         = errors.New("store: account cannot follow itself")
	ErrNotFound           = errors.New("store: not found")
	ErrStorageUnavailable = errors.New("store: storage unavailable")
)

// UnavailableError carries a driver failure untouched. It matches
// ErrStorageUnavailable under errors.Is.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return "store: " + e.Op + ": " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrStorageUnavailable }

// Unavailable wraps err for op; nil stays nil.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &UnavailableError{Op: op, Err: err}
}

// --- Interfaces ---

// AccountStore owns account records.
type AccountStore interface {
	CreateAccount(ctx context.Context, account models.Account) (uuid.UUID, error)
	FindAccountByUsername(ctx context.Context, username string) (*models.Account, error)
	FindAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdateProfile(ctx context.Context, id uuid.UUID, update models.ProfileUpdate) error
}

// PostStore owns posts. ListPostsByAuthor returns newest first.
type PostStore interface {
	CreatePost(ctx context.Context, authorID uuid.UUID, body string, at time.Time) (uuid.UUID, error)
	ListPostsByAuthor(ctx context.Context, authorID uuid.UUID, page models.Page) ([]models.Post, error)
}

// FollowStore owns the directed follower -> followed edge set.
type FollowStore interface {
	Follow(ctx context.Context, followerID, followedID uuid.UUID) error
	Unfollow(ctx context.Context, followerID, followedID uuid.UUID) error
	IsFollowing(ctx context.Context, followerID, followedID uuid.UUID) (bool, error)
	FollowedCount(ctx context.Context, id uuid.UUID) (int, error)
	FollowerCount(ctx context.Context, id uuid.UUID) (int, error)
	ListFollowed(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)
	ListFollowers(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)
}

type StoreInterface interface {
	AccountStore
	PostStore
	FollowStore
	Close()
}

// NewID allocates a time-ordered identifier.
func NewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
