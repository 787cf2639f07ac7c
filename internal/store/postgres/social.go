package postgres

import (
	"context"
	"errors"
	"time"

	"example.com/microblog/internal/models"
	"example.com/microblog/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// --- Account operations ---

func (s *Store) CreateAccount(ctx context.Context, account models.Account) (uuid.UUID, error) {
	const query = `INSERT INTO accounts (id, username, email, credential, about_me, last_seen, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`

	id := store.NewID()
	_, err := s.pool.Exec(ctx, query,
		id, account.Username, account.Email, account.Credential, account.AboutMe, time.Now().UTC())
	if err != nil {
		if sqlState(err) == uniqueViolation {
			return uuid.Nil, store.ErrDuplicateUsername
		}
		logg.Error("store", "Failed to create account", err)
		return uuid.Nil, store.Unavailable("create account", err)
	}
	return id, nil
}

const accountColumns = `id, username, email, credential, about_me, last_seen, created_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &a.Credential, &a.AboutMe, &a.LastSeen, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.LastSeen = a.LastSeen.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

// FindAccountByUsername fetches an account by its exact username.
func (s *Store) FindAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = $1`, username))
	return a, findErr("find account by username", err)
}

// FindAccountByID retrieves an account by identifier.
func (s *Store) FindAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	return a, findErr("find account by id", err)
}

func findErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return store.ErrNotFound
	default:
		return store.Unavailable(op, err)
	}
}

// TouchLastSeen moves last_seen forward only; the guard is part of the UPDATE.
func (s *Store) TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE accounts SET last_seen = $2 WHERE id = $1 AND last_seen < $2`, id, at.UTC())
	return store.Unavailable("touch last seen", err)
}

// UpdateProfile changes username and/or about_me.
func (s *Store) UpdateProfile(ctx context.Context, id uuid.UUID, update models.ProfileUpdate) error {
	const query = `UPDATE accounts
		SET username = COALESCE($2, username),
			about_me = COALESCE($3, about_me)
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, update.Username, update.AboutMe)
	if err != nil {
		if sqlState(err) == uniqueViolation {
			return store.ErrDuplicateUsername
		}
		return store.Unavailable("update profile", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- Post operations ---

func (s *Store) CreatePost(ctx context.Context, authorID uuid.UUID, body string, at time.Time) (uuid.UUID, error) {
	id := store.NewID()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO posts (id, author_id, body, created_at) VALUES ($1, $2, $3, $4)`,
		id, authorID, body, at.UTC())
	if err != nil {
		if sqlState(err) == foreignKeyViolation {
			return uuid.Nil, store.ErrUnknownAccount
		}
		logg.Error("store", "Failed to add post", err)
		return uuid.Nil, store.Unavailable("create post", err)
	}
	return id, nil
}

// ListPostsByAuthor walks posts_author_created_idx newest first. A NULL limit
// means no limit.
func (s *Store) ListPostsByAuthor(ctx context.Context, authorID uuid.UUID, page models.Page) ([]models.Post, error) {
	var limit *int
	if page.Limit > 0 {
		limit = &page.Limit
	}

	var rows pgx.Rows
	var err error
	if page.Before == nil {
		rows, err = s.pool.Query(ctx, `
			SELECT id, author_id, body, created_at FROM posts
			WHERE author_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`,
			authorID, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, author_id, body, created_at FROM posts
			WHERE author_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`,
			authorID, page.Before.Created.UTC(), page.Before.ID, limit)
	}
	if err != nil {
		return nil, store.Unavailable("list posts", err)
	}
	defer rows.Close()

	res := []models.Post{}
	for rows.Next() {
		var p models.Post
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.Body, &p.Created); err != nil {
			return nil, store.Unavailable("list posts", err)
		}
		p.Created = p.Created.UTC()
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("list posts", err)
	}
	return res, nil
}

// --- Follow operations ---

// Follow inserts the edge once; the primary key makes repeats no-ops and the
// foreign keys reject unknown accounts.
func (s *Store) Follow(ctx context.Context, followerID, followedID uuid.UUID) error {
	if followerID == followedID {
		return store.ErrSelfFollow
	}
	const query = `INSERT INTO follows (follower_id, followed_id) VALUES ($1, $2)
		ON CONFLICT (follower_id, followed_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query, followerID, followedID)
	switch sqlState(err) {
	case foreignKeyViolation:
		return store.ErrUnknownAccount
	case checkViolation:
		return store.ErrSelfFollow
	}
	if err != nil {
		logg.Error("store", "Failed to create follow relationship", err)
		return store.Unavailable("follow", err)
	}
	return nil
}

func (s *Store) Unfollow(ctx context.Context, followerID, followedID uuid.UUID) error {
	if followerID == followedID {
		return store.ErrSelfFollow
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM follows WHERE follower_id = $1 AND followed_id = $2`, followerID, followedID)
	return store.Unavailable("unfollow", err)
}

func (s *Store) IsFollowing(ctx context.Context, followerID, followedID uuid.UUID) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM follows WHERE follower_id = $1 AND followed_id = $2)`,
		followerID, followedID,
	).Scan(&ok)
	if err != nil {
		return false, store.Unavailable("is following", err)
	}
	return ok, nil
}

func (s *Store) FollowedCount(ctx context.Context, id uuid.UUID) (int, error) {
	return s.count(ctx, "followed count", `SELECT COUNT(1) FROM follows WHERE follower_id = $1`, id)
}

func (s *Store) FollowerCount(ctx context.Context, id uuid.UUID) (int, error) {
	return s.count(ctx, "follower count", `SELECT COUNT(1) FROM follows WHERE followed_id = $1`, id)
}

func (s *Store) count(ctx context.Context, op, query string, id uuid.UUID) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, query, id).Scan(&n); err != nil {
		return 0, store.Unavailable(op, err)
	}
	return n, nil
}

func (s *Store) ListFollowed(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	return s.ids(ctx, "list followed", `SELECT followed_id FROM follows WHERE follower_id = $1`, id)
}

func (s *Store) ListFollowers(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	return s.ids(ctx, "list followers", `SELECT follower_id FROM follows WHERE followed_id = $1`, id)
}

func (s *Store) ids(ctx context.Context, op, query string, id uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, query, id)
	if err != nil {
		return nil, store.Unavailable(op, err)
	}
	res, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, store.Unavailable(op, err)
	}
	return res, nil
}
