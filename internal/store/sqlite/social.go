package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"example.com/microblog/internal/models"
	"example.com/microblog/internal/store"
	"github.com/google/uuid"
)

// --- Account operations ---

func (s *Store) CreateAccount(ctx context.Context, account models.Account) (uuid.UUID, error) {
	id := store.NewID()
	now := toNanos(time.Now())

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, username, email, credential, about_me, last_seen_ns, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, account.Username, account.Email, account.Credential, account.AboutMe, now, now,
	)
	if err != nil {
		if constraintOf(err) == uniqueViolation {
			return uuid.Nil, store.ErrDuplicateUsername
		}
		logg.Error("store", "Failed to create account", err)
		return uuid.Nil, store.Unavailable("create account", err)
	}
	return id, nil
}

const accountColumns = `id, username, email, credential, about_me, last_seen_ns, created_at_ns`

func scanAccount(row *sql.Row) (*models.Account, error) {
	var a models.Account
	var lastSeen, created int64
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &a.Credential, &a.AboutMe, &lastSeen, &created); err != nil {
		return nil, err
	}
	a.LastSeen = fromNanos(lastSeen)
	a.CreatedAt = fromNanos(created)
	return &a, nil
}

func (s *Store) FindAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username))
	return a, findErr("find account by username", err)
}

func (s *Store) FindAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	return a, findErr("find account by id", err)
}

func findErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return store.ErrNotFound
	default:
		return store.Unavailable(op, err)
	}
}

// TouchLastSeen only ever moves last_seen forward; the comparison runs inside
// the UPDATE so concurrent touches keep the maximum.
func (s *Store) TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error {
	n := toNanos(at)
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET last_seen_ns = ? WHERE id = ? AND last_seen_ns < ?`, n, id, n)
	return store.Unavailable("touch last seen", err)
}

func (s *Store) UpdateProfile(ctx context.Context, id uuid.UUID, update models.ProfileUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET username = COALESCE(?, username),
			about_me = COALESCE(?, about_me)
		WHERE id = ?`,
		update.Username, update.AboutMe, id,
	)
	if err != nil {
		if constraintOf(err) == uniqueViolation {
			return store.ErrDuplicateUsername
		}
		return store.Unavailable("update profile", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.Unavailable("update profile", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- Post operations ---

func (s *Store) CreatePost(ctx context.Context, authorID uuid.UUID, body string, at time.Time) (uuid.UUID, error) {
	id := store.NewID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (id, author_id, body, created_at_ns) VALUES (?, ?, ?, ?)`,
		id, authorID, body, toNanos(at),
	)
	if err != nil {
		if constraintOf(err) == foreignKeyViolation {
			return uuid.Nil, store.ErrUnknownAccount
		}
		logg.Error("store", "Failed to add post", err)
		return uuid.Nil, store.Unavailable("create post", err)
	}
	return id, nil
}

func (s *Store) ListPostsByAuthor(ctx context.Context, authorID uuid.UUID, page models.Page) ([]models.Post, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = -1
	}

	var rows *sql.Rows
	var err error
	if page.Before == nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, author_id, body, created_at_ns FROM posts
			WHERE author_id = ?
			ORDER BY created_at_ns DESC, id DESC
			LIMIT ?`,
			authorID, limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, author_id, body, created_at_ns FROM posts
			WHERE author_id = ? AND (created_at_ns, id) < (?, ?)
			ORDER BY created_at_ns DESC, id DESC
			LIMIT ?`,
			authorID, toNanos(page.Before.Created), page.Before.ID, limit,
		)
	}
	if err != nil {
		return nil, store.Unavailable("list posts", err)
	}
	defer rows.Close()

	res := []models.Post{}
	for rows.Next() {
		var p models.Post
		var created int64
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.Body, &created); err != nil {
			return nil, store.Unavailable("list posts", err)
		}
		p.Created = fromNanos(created)
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("list posts", err)
	}
	return res, nil
}

// --- Follow operations ---

// Follow relies on the primary key for idempotency and on the foreign keys
// for account existence.
func (s *Store) Follow(ctx context.Context, followerID, followedID uuid.UUID) error {
	if followerID == followedID {
		return store.ErrSelfFollow
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO follows (follower_id, followed_id) VALUES (?, ?)
		ON CONFLICT (follower_id, followed_id) DO NOTHING`,
		followerID, followedID,
	)
	switch constraintOf(err) {
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
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM follows WHERE follower_id = ? AND followed_id = ?`, followerID, followedID)
	return store.Unavailable("unfollow", err)
}

func (s *Store) IsFollowing(ctx context.Context, followerID, followedID uuid.UUID) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM follows WHERE follower_id = ? AND followed_id = ?)`,
		followerID, followedID,
	).Scan(&ok)
	if err != nil {
		return false, store.Unavailable("is following", err)
	}
	return ok, nil
}

func (s *Store) FollowedCount(ctx context.Context, id uuid.UUID) (int, error) {
	return s.count(ctx, "followed count", `SELECT COUNT(1) FROM follows WHERE follower_id = ?`, id)
}

func (s *Store) FollowerCount(ctx context.Context, id uuid.UUID) (int, error) {
	return s.count(ctx, "follower count", `SELECT COUNT(1) FROM follows WHERE followed_id = ?`, id)
}

func (s *Store) count(ctx context.Context, op, query string, id uuid.UUID) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
		return 0, store.Unavailable(op, err)
	}
	return n, nil
}

func (s *Store) ListFollowed(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	return s.ids(ctx, "list followed", `SELECT followed_id FROM follows WHERE follower_id = ?`, id)
}

func (s *Store) ListFollowers(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	return s.ids(ctx, "list followers", `SELECT follower_id FROM follows WHERE followed_id = ?`, id)
}

func (s *Store) ids(ctx context.Context, op, query string, id uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, store.Unavailable(op, err)
	}
	defer rows.Close()

	res := []uuid.UUID{}
	for rows.Next() {
		var v uuid.UUID
		if err := rows.Scan(&v); err != nil {
			return nil, store.Unavailable(op, err)
		}
		res = append(res, v)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable(op, err)
	}
	return res, nil
}
