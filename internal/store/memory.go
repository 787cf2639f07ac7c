package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"example.com/microblog/internal/models"
	"github.com/google/uuid"
)

// MemoryStore keeps everything in process memory behind one RWMutex.
// It backs STORE_DRIVER=memory and the unit tests.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[uuid.UUID]models.Account
	byName    map[string]uuid.UUID
	posts     map[uuid.UUID][]models.Post // per author, in feed order
	followed  map[uuid.UUID]map[uuid.UUID]struct{}
	followers map[uuid.UUID]map[uuid.UUID]struct{}
}

var _ StoreInterface = (*MemoryStore)(nil)

// NewMemory initializes an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[uuid.UUID]models.Account),
		byName:    make(map[string]uuid.UUID),
		posts:     make(map[uuid.UUID][]models.Post),
		followed:  make(map[uuid.UUID]map[uuid.UUID]struct{}),
		followers: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (m *MemoryStore) Close() {}

// --- Account operations ---

func (m *MemoryStore) CreateAccount(ctx context.Context, account models.Account) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byName[account.Username]; taken {
		return uuid.Nil, ErrDuplicateUsername
	}

	now := time.Now().UTC()
	account.ID = NewID()
	account.Credential = append([]byte(nil), account.Credential...)
	account.CreatedAt = now
	account.LastSeen = now

	m.accounts[account.ID] = account
	m.byName[account.Username] = account.ID
	return account.ID, nil
}

func (m *MemoryStore) FindAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byName[username]
	if !ok {
		return nil, ErrNotFound
	}
	return m.copyAccount(id), nil
}

func (m *MemoryStore) FindAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.accounts[id]; !ok {
		return nil, ErrNotFound
	}
	return m.copyAccount(id), nil
}

// copyAccount must be called with m.mu held.
func (m *MemoryStore) copyAccount(id uuid.UUID) *models.Account {
	a := m.accounts[id]
	a.Credential = append([]byte(nil), a.Credential...)
	return &a
}

func (m *MemoryStore) TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok || !at.After(a.LastSeen) {
		return nil
	}
	a.LastSeen = at
	m.accounts[id] = a
	return nil
}

func (m *MemoryStore) UpdateProfile(ctx context.Context, id uuid.UUID, update models.ProfileUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}

	if update.Username != nil && *update.Username != a.Username {
		if _, taken := m.byName[*update.Username]; taken {
			return ErrDuplicateUsername
		}
		delete(m.byName, a.Username)
		a.Username = *update.Username
		m.byName[a.Username] = id
	}
	if update.AboutMe != nil {
		a.AboutMe = *update.AboutMe
	}

	m.accounts[id] = a
	return nil
}

// --- Post operations ---

func (m *MemoryStore) CreatePost(ctx context.Context, authorID uuid.UUID, body string, at time.Time) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[authorID]; !ok {
		return uuid.Nil, ErrUnknownAccount
	}

	post := models.Post{ID: NewID(), AuthorID: authorID, Body: body, Created: at.UTC()}
	posts := m.posts[authorID]
	i := sort.Search(len(posts), func(i int) bool { return models.Precedes(post, posts[i]) })
	posts = append(posts, models.Post{})
	copy(posts[i+1:], posts[i:])
	posts[i] = post
	m.posts[authorID] = posts

	return post.ID, nil
}

func (m *MemoryStore) ListPostsByAuthor(ctx context.Context, authorID uuid.UUID, page models.Page) ([]models.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	posts := m.posts[authorID]
	start := sort.Search(len(posts), func(i int) bool { return page.Before.Admits(posts[i]) })
	end := len(posts)
	if page.Limit > 0 && start+page.Limit < end {
		end = start + page.Limit
	}

	res := make([]models.Post, end-start)
	copy(res, posts[start:end])
	return res, nil
}

// --- Follow operations ---

func (m *MemoryStore) Follow(ctx context.Context, followerID, followedID uuid.UUID) error {
	if followerID == followedID {
		return ErrSelfFollow
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.exists(followerID) || !m.exists(followedID) {
		return ErrUnknownAccount
	}
	addEdge(m.followed, followerID, followedID)
	addEdge(m.followers, followedID, followerID)
	return nil
}

func (m *MemoryStore) Unfollow(ctx context.Context, followerID, followedID uuid.UUID) error {
	if followerID == followedID {
		return ErrSelfFollow
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removeEdge(m.followed, followerID, followedID)
	removeEdge(m.followers, followedID, followerID)
	return nil
}

func (m *MemoryStore) IsFollowing(ctx context.Context, followerID, followedID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.followed[followerID][followedID]
	return ok, nil
}

func (m *MemoryStore) FollowedCount(ctx context.Context, id uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.followed[id]), nil
}

func (m *MemoryStore) FollowerCount(ctx context.Context, id uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.followers[id]), nil
}

func (m *MemoryStore) ListFollowed(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return keys(m.followed[id]), nil
}

func (m *MemoryStore) ListFollowers(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return keys(m.followers[id]), nil
}

func (m *MemoryStore) exists(id uuid.UUID) bool {
	_, ok := m.accounts[id]
	return ok
}

func addEdge(idx map[uuid.UUID]map[uuid.UUID]struct{}, from, to uuid.UUID) {
	set, ok := idx[from]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		idx[from] = set
	}
	set[to] = struct{}{}
}

func removeEdge(idx map[uuid.UUID]map[uuid.UUID]struct{}, from, to uuid.UUID) {
	set, ok := idx[from]
	if !ok {
		return
	}
	delete(set, to)
	if len(set) == 0 {
		delete(idx, from)
	}
}

func keys(set map[uuid.UUID]struct{}) []uuid.UUID {
	res := make([]uuid.UUID, 0, len(set))
	for id := range set {
		res = append(res, id)
	}
	return res
}

// ---------------------------------------------
// MockStoreFail always reports the storage as unavailable, for negative tests
type MockStoreFail struct{}

var _ StoreInterface = (*MockStoreFail)(nil)

var errMockDown = errors.New("mock store down")

func (m *MockStoreFail) Close() {}

func (m *MockStoreFail) CreateAccount(ctx context.Context, account models.Account) (uuid.UUID, error) {
	return uuid.Nil, Unavailable("create account", errMockDown)
}

func (m *MockStoreFail) FindAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	return nil, Unavailable("find account", errMockDown)
}

func (m *MockStoreFail) FindAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return nil, Unavailable("find account", errMockDown)
}

func (m *MockStoreFail) TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error {
	return Unavailable("touch last seen", errMockDown)
}

func (m *MockStoreFail) UpdateProfile(ctx context.Context, id uuid.UUID, update models.ProfileUpdate) error {
	return Unavailable("update profile", errMockDown)
}

func (m *MockStoreFail) CreatePost(ctx context.Context, authorID uuid.UUID, body string, at time.Time) (uuid.UUID, error) {
	return uuid.Nil, Unavailable("create post", errMockDown)
}

func (m *MockStoreFail) ListPostsByAuthor(ctx context.Context, authorID uuid.UUID, page models.Page) ([]models.Post, error) {
	return nil, Unavailable("list posts", errMockDown)
}

func (m *MockStoreFail) Follow(ctx context.Context, followerID, followedID uuid.UUID) error {
	return Unavailable("follow", errMockDown)
}

func (m *MockStoreFail) Unfollow(ctx context.Context, followerID, followedID uuid.UUID) error {
	return Unavailable("unfollow", errMockDown)
}

func (m *MockStoreFail) IsFollowing(ctx context.Context, followerID, followedID uuid.UUID) (bool, error) {
	return false, Unavailable("is following", errMockDown)
}

func (m *MockStoreFail) FollowedCount(ctx context.Context, id uuid.UUID) (int, error) {
	return 0, Unavailable("followed count", errMockDown)
}

func (m *MockStoreFail) FollowerCount(ctx context.Context, id uuid.UUID) (int, error) {
	return 0, Unavailable("follower count", errMockDown)
}

func (m *MockStoreFail) ListFollowed(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	return nil, Unavailable("list followed", errMockDown)
}

func (m *MockStoreFail) ListFollowers(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	return nil, Unavailable("list followers", errMockDown)
}
