package cassandra

import (
	"context"
	"errors"
	"strings"
	"time"

	"example.com/microblog/internal/models"
	"example.com/microblog/internal/store"
	"github.com/gocql/gocql"
	"github.com/google/uuid"
)

// cqlTime matches the millisecond precision of the timestamp type.
func cqlTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// --- Account operations ---

// claimUsername reserves name for id. It reports false when another account
// already holds it.
func (s *Store) claimUsername(ctx context.Context, name string, id uuid.UUID) (bool, error) {
	applied, err := s.Session.Query(`
		INSERT INTO accounts_by_username (username, account_id)
		VALUES (?, ?) IF NOT EXISTS`,
		name, toCQL(id),
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		logg.Error("store", "Failed to create username entry", err)
		return false, store.Unavailable("claim username", err)
	}
	return applied, nil
}

// releaseUsername drops name only while it still points at id.
func (s *Store) releaseUsername(ctx context.Context, name string, id uuid.UUID) error {
	_, err := s.Session.Query(`
		DELETE FROM accounts_by_username WHERE username = ? IF account_id = ?`,
		name, toCQL(id),
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		logg.Error("store", "Failed to release username entry", err)
		return store.Unavailable("release username", err)
	}
	return nil
}

func (s *Store) CreateAccount(ctx context.Context, account models.Account) (uuid.UUID, error) {
	id := store.NewID()

	applied, err := s.claimUsername(ctx, account.Username, id)
	if err != nil {
		return uuid.Nil, err
	}
	if !applied {
		return uuid.Nil, store.ErrDuplicateUsername
	}

	now := cqlTime(time.Now())
	err = s.Session.Query(`
		INSERT INTO accounts (account_id, username, email, credential, about_me, last_seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		toCQL(id), account.Username, account.Email, account.Credential, account.AboutMe, now, now,
	).WithContext(ctx).Exec()
	if err != nil {
		logg.Error("store", "Failed to create account in main table", err)
		_ = s.releaseUsername(ctx, account.Username, id)
		return uuid.Nil, store.Unavailable("create account", err)
	}

	logg.Debug("store", "Account created successfully (username anonymized)")
	return id, nil
}

func (s *Store) FindAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	var id gocql.UUID
	err := s.Session.Query(
		`SELECT account_id FROM accounts_by_username WHERE username = ?`,
		username,
	).WithContext(ctx).Scan(&id)
	if err != nil {
		return nil, findErr("find account by username", err)
	}
	return s.FindAccountByID(ctx, fromCQL(id))
}

func (s *Store) FindAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var (
		a     models.Account
		rawID gocql.UUID
	)
	err := s.Session.Query(`
		SELECT account_id, username, email, credential, about_me, last_seen, created_at
		FROM accounts WHERE account_id = ?`,
		toCQL(id),
	).WithContext(ctx).Scan(&rawID, &a.Username, &a.Email, &a.Credential, &a.AboutMe, &a.LastSeen, &a.CreatedAt)
	if err != nil {
		return nil, findErr("find account by id", err)
	}
	a.ID = fromCQL(rawID)
	a.LastSeen = a.LastSeen.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func findErr(op string, err error) error {
	if errors.Is(err, gocql.ErrNotFound) {
		return store.ErrNotFound
	}
	logg.Error("store", "Failed to query account", err)
	return store.Unavailable(op, err)
}

func (s *Store) accountExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var rawID gocql.UUID
	err := s.Session.Query(
		`SELECT account_id FROM accounts WHERE account_id = ?`, toCQL(id),
	).WithContext(ctx).Scan(&rawID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, gocql.ErrNotFound):
		return false, nil
	default:
		return false, store.Unavailable("account exists", err)
	}
}

// TouchLastSeen is a conditional update: a missing row fails the condition
// instead of being created, and racing touches serialise through Paxos.
func (s *Store) TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error {
	at = cqlTime(at)
	_, err := s.Session.Query(`
		UPDATE accounts SET last_seen = ? WHERE account_id = ? IF last_seen < ?`,
		at, toCQL(id), at,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	return store.Unavailable("touch last seen", err)
}

func (s *Store) UpdateProfile(ctx context.Context, id uuid.UUID, update models.ProfileUpdate) error {
	current, err := s.FindAccountByID(ctx, id)
	if err != nil {
		return err
	}

	var (
		sets []string
		args []interface{}
	)
	renamed := update.Username != nil && *update.Username != current.Username
	if renamed {
		applied, err := s.claimUsername(ctx, *update.Username, id)
		if err != nil {
			return err
		}
		if !applied {
			return store.ErrDuplicateUsername
		}
		sets = append(sets, "username = ?")
		args = append(args, *update.Username)
	}
	if update.AboutMe != nil {
		sets = append(sets, "about_me = ?")
		args = append(args, *update.AboutMe)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, toCQL(id))
	err = s.Session.Query(
		`UPDATE accounts SET `+strings.Join(sets, ", ")+` WHERE account_id = ?`, args...,
	).WithContext(ctx).Exec()
	if err != nil {
		logg.Error("store", "Failed to update profile", err)
		if renamed {
			_ = s.releaseUsername(ctx, *update.Username, id)
		}
		return store.Unavailable("update profile", err)
	}

	if renamed {
		return s.releaseUsername(ctx, current.Username, id)
	}
	return nil
}

// --- Post operations ---

func (s *Store) CreatePost(ctx context.Context, authorID uuid.UUID, body string, at time.Time) (uuid.UUID, error) {
	ok, err := s.accountExists(ctx, authorID)
	if err != nil {
		return uuid.Nil, err
	}
	if !ok {
		return uuid.Nil, store.ErrUnknownAccount
	}

	id := store.NewID()
	if err := s.Session.Query(`
		INSERT INTO posts_by_author (author_id, created_at, post_id, body)
		VALUES (?, ?, ?, ?)`,
		toCQL(authorID), cqlTime(at), id[:], body,
	).WithContext(ctx).Exec(); err != nil {
		logg.Error("store", "Failed to add post", err)
		return uuid.Nil, store.Unavailable("create post", err)
	}

	logg.Debug("store", "Post added to posts_by_author (post content anonymized)")
	return id, nil
}

// ListPostsByAuthor reads one partition in clustering order, which is the
// feed order.
func (s *Store) ListPostsByAuthor(ctx context.Context, authorID uuid.UUID, page models.Page) ([]models.Post, error) {
	stmt := `SELECT post_id, body, created_at FROM posts_by_author WHERE author_id = ?`
	args := []interface{}{toCQL(authorID)}
	if page.Before != nil {
		stmt += ` AND (created_at, post_id) < (?, ?)`
		args = append(args, cqlTime(page.Before.Created), page.Before.ID[:])
	}
	if page.Limit > 0 {
		stmt += ` LIMIT ?`
		args = append(args, page.Limit)
	}

	iter := s.Session.Query(stmt, args...).WithContext(ctx).Iter()

	var (
		rawID   []byte
		body    string
		created time.Time
	)
	res := []models.Post{}
	for iter.Scan(&rawID, &body, &created) {
		pid, err := uuid.FromBytes(rawID)
		if err != nil {
			_ = iter.Close()
			return nil, store.Unavailable("list posts", err)
		}
		res = append(res, models.Post{
			ID:       pid,
			AuthorID: authorID,
			Body:     body,
			Created:  created.UTC(),
		})
	}

	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to list posts by author", err)
		return nil, store.Unavailable("list posts", err)
	}
	return res, nil
}

// --- Follow operations ---

// Follow writes both directions in one logged batch. Rows are keyed by the
// pair, so repeating it is a no-op.
func (s *Store) Follow(ctx context.Context, followerID, followedID uuid.UUID) error {
	if followerID == followedID {
		return store.ErrSelfFollow
	}
	for _, id := range []uuid.UUID{followerID, followedID} {
		ok, err := s.accountExists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrUnknownAccount
		}
	}

	batch := s.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO follows_by_follower (follower_id, followed_id) VALUES (?, ?)`,
		toCQL(followerID), toCQL(followedID))
	batch.Query(`INSERT INTO followers_by_followed (followed_id, follower_id) VALUES (?, ?)`,
		toCQL(followedID), toCQL(followerID))

	if err := s.Session.ExecuteBatch(batch); err != nil {
		logg.Error("store", "Failed to create follow relationship", err)
		return store.Unavailable("follow", err)
	}
	return nil
}

func (s *Store) Unfollow(ctx context.Context, followerID, followedID uuid.UUID) error {
	if followerID == followedID {
		return store.ErrSelfFollow
	}

	batch := s.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`DELETE FROM follows_by_follower WHERE follower_id = ? AND followed_id = ?`,
		toCQL(followerID), toCQL(followedID))
	batch.Query(`DELETE FROM followers_by_followed WHERE followed_id = ? AND follower_id = ?`,
		toCQL(followedID), toCQL(followerID))

	if err := s.Session.ExecuteBatch(batch); err != nil {
		logg.Error("store", "Failed to remove follow relationship", err)
		return store.Unavailable("unfollow", err)
	}
	return nil
}

func (s *Store) IsFollowing(ctx context.Context, followerID, followedID uuid.UUID) (bool, error) {
	var rawID gocql.UUID
	err := s.Session.Query(`
		SELECT followed_id FROM follows_by_follower WHERE follower_id = ? AND followed_id = ?`,
		toCQL(followerID), toCQL(followedID),
	).WithContext(ctx).Scan(&rawID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, gocql.ErrNotFound):
		return false, nil
	default:
		return false, store.Unavailable("is following", err)
	}
}

func (s *Store) FollowedCount(ctx context.Context, id uuid.UUID) (int, error) {
	return s.count(ctx, "followed count",
		`SELECT COUNT(*) FROM follows_by_follower WHERE follower_id = ?`, id)
}

func (s *Store) FollowerCount(ctx context.Context, id uuid.UUID) (int, error) {
	return s.count(ctx, "follower count",
		`SELECT COUNT(*) FROM followers_by_followed WHERE followed_id = ?`, id)
}

func (s *Store) count(ctx context.Context, op, stmt string, id uuid.UUID) (int, error) {
	var n int64
	if err := s.Session.Query(stmt, toCQL(id)).WithContext(ctx).Scan(&n); err != nil {
		return 0, store.Unavailable(op, err)
	}
	return int(n), nil
}

func (s *Store) ListFollowed(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	return s.ids(ctx, "list followed",
		`SELECT followed_id FROM follows_by_follower WHERE follower_id = ?`, id)
}

func (s *Store) ListFollowers(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	return s.ids(ctx, "list followers",
		`SELECT follower_id FROM followers_by_followed WHERE followed_id = ?`, id)
}

func (s *Store) ids(ctx context.Context, op, stmt string, id uuid.UUID) ([]uuid.UUID, error) {
	iter := s.Session.Query(stmt, toCQL(id)).WithContext(ctx).Iter()

	var rawID gocql.UUID
	res := []uuid.UUID{}
	for iter.Scan(&rawID) {
		res = append(res, fromCQL(rawID))
	}

	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to list follow edges", err)
		return nil, store.Unavailable(op, err)
	}
	return res, nil
}
