// Package storetest holds the behaviour every store backend must share.
package storetest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"example.com/microblog/internal/feed"
	"example.com/microblog/internal/models"
	"example.com/microblog/internal/store"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) store.StoreInterface

// Run executes the whole suite against newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, st store.StoreInterface)
	}{
		{"CreateAndFindAccount", testCreateAndFindAccount},
		{"DuplicateUsername", testDuplicateUsername},
		{"TouchLastSeenNeverMovesBackward", testTouchLastSeen},
		{"ConcurrentTouchKeepsMaximum", testConcurrentTouch},
		{"UpdateProfile", testUpdateProfile},
		{"CreatePostUnknownAccount", testCreatePostUnknownAccount},
		{"ListPostsByAuthorOrderAndPages", testListPostsByAuthor},
		{"FollowIsDirected", testFollowIsDirected},
		{"FollowIsIdempotent", testFollowIsIdempotent},
		{"ConcurrentFollowCreatesOneEdge", testConcurrentFollow},
		{"UnfollowAbsentEdge", testUnfollowAbsentEdge},
		{"SelfFollowRejected", testSelfFollow},
		{"FollowUnknownAccount", testFollowUnknownAccount},
		{"FollowUnfollowRoundTrip", testFollowRoundTrip},
		{"FeedScenario", testFeedScenario},
		{"FeedIncludesOwnPosts", testFeedIncludesOwnPosts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newStore(t)
			defer st.Close()
			tt.fn(t, st)
		})
	}
}

// Scenario is the four-account graph used across the feed tests.
type Scenario struct {
	Base                     time.Time
	John, Susan, Mary, David uuid.UUID
	JohnPost, SusanPost      uuid.UUID
	MaryPost, DavidPost      uuid.UUID
}

// SeedScenario creates john, susan, mary and david with one post each at
// base+1s (john), +4s (susan), +3s (mary), +2s (david) and the edges
// john->susan, john->david, susan->mary, mary->david.
func SeedScenario(t *testing.T, st store.StoreInterface) Scenario {
	t.Helper()
	ctx := context.Background()

	s := Scenario{Base: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	s.John = MustAccount(t, st, "john")
	s.Susan = MustAccount(t, st, "susan")
	s.Mary = MustAccount(t, st, "mary")
	s.David = MustAccount(t, st, "david")

	s.JohnPost = MustPost(t, st, s.John, "post from john", s.Base.Add(1*time.Second))
	s.SusanPost = MustPost(t, st, s.Susan, "post from susan", s.Base.Add(4*time.Second))
	s.MaryPost = MustPost(t, st, s.Mary, "post from mary", s.Base.Add(3*time.Second))
	s.DavidPost = MustPost(t, st, s.David, "post from david", s.Base.Add(2*time.Second))

	for _, e := range [][2]uuid.UUID{{s.John, s.Susan}, {s.John, s.David}, {s.Susan, s.Mary}, {s.Mary, s.David}} {
		if err := st.Follow(ctx, e[0], e[1]); err != nil {
			t.Fatalf("follow failed: %v", err)
		}
	}
	return s
}

// MustAccount creates an account or fails the test.
func MustAccount(t *testing.T, st store.StoreInterface, username string) uuid.UUID {
	t.Helper()
	id, err := st.CreateAccount(context.Background(), models.Account{
		Username: username,
		Email:    username + "@example.com",
	})
	if err != nil {
		t.Fatalf("create account %q failed: %v", username, err)
	}
	return id
}

// MustPost creates a post or fails the test.
func MustPost(t *testing.T, st store.StoreInterface, author uuid.UUID, body string, at time.Time) uuid.UUID {
	t.Helper()
	id, err := st.CreatePost(context.Background(), author, body, at)
	if err != nil {
		t.Fatalf("create post failed: %v", err)
	}
	return id
}

// PostIDs projects posts to their ids.
func PostIDs(posts []models.Post) []uuid.UUID {
	ids := make([]uuid.UUID, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	return ids
}

func sortedIDs(ids []uuid.UUID) []string {
	res := make([]string, len(ids))
	for i, id := range ids {
		res[i] = id.String()
	}
	sort.Strings(res)
	return res
}

func testCreateAndFindAccount(t *testing.T, st store.StoreInterface) {
	ctx := context.Background()

	id, err := st.CreateAccount(ctx, models.Account{
		Username:   "john",
		Email:      "john@example.com",
		Credential: []byte("opaque"),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	byName, err := st.FindAccountByUsername(ctx, "john")
	if err != nil {
		t.Fatalf("find by username failed: %v", err)
	}
	byID, err := st.FindAccountByID(ctx, id)
	if err != nil {
		t.Fatalf("find by id failed: %v", err)
	}
	if byName.ID != id || byID.Username != "john" || byID.Email != "john@example.com" {
		t.Fatalf("unexpected account: %+v / %+v", byName, byID)
	}
	if string(byID.Credential) != "opaque" {
		t.Fatalf("credential not preserved: %q", byID.Credential)
	}
	if byID.LastSeen.IsZero() {
		t.Fatalf("last seen must be initialised at creation")
	}

	if _, err := st.FindAccountByUsername(ctx, "John"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("username lookup must be case-sensitive, got %v", err)
	}
	if _, err := st.FindAccountByID(ctx, uuid.Must(uuid.NewV7())); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testDuplicateUsername(t *testing.T, st store.StoreInterface) {
	ctx := context.Background()
	MustAccount(t, st, "susan")

	if _, err := st.CreateAccount(ctx, models.Account{Username: "susan"}); !errors.Is(err, store.ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}
	// exact match only
	MustAccount(t, st, "Susan")
}

func testTouchLastSeen(t *testing.T, st store.StoreInterface) {
	ctx := context.Background()
	id := MustAccount(t, st, "john")

	t1 := time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond)
	t0 := t1.Add(-30 * time.Minute)

	if err := st.TouchLastSeen(ctx, id, t1); err != nil {
		t.Fatalf("touch failed: %v", err)
	}
	if err := st.TouchLastSeen(ctx, id, t0); err != nil {
		t.Fatalf("touch failed: %v", err)
	}
	if err := st.TouchLastSeen(ctx, id, t1); err != nil {
		t.Fatalf("repeat touch failed: %v", err)
	}

	a, err := st.FindAccountByID(ctx, id)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if !a.LastSeen.Equal(t1) {
		t.Fatalf("expected last seen %s, got %s", t1, a.LastSeen)
	}

	// unknown ids are ignored
	if err := st.TouchLastSeen(ctx, uuid.Must(uuid.NewV7()), t1); err != nil {
		t.Fatalf("touch of unknown account must be a no-op, got %v", err)
	}
}

func testConcurrentTouch(t *testing.T, st store.StoreInterface) {
	ctx := context.Background()
	id := MustAccount(t, st, "mary")

	base := time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := st.TouchLastSeen(ctx, id, base.Add(time.Duration(i)*time.Second)); err != nil {
				t.Errorf("touch failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	a, err := st.FindAccountByID(ctx, id)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if want := base.Add(15 * time.Second); !a.LastSeen.Equal(want) {
		t.Fatalf("expected maximum %s, got %s", want, a.LastSeen)
	}
}

func testUpdateProfile(t *testing.T, st store.StoreInterface) {
	ctx := context.Background()
	john := MustAccount(t, st, "john")
	MustAccount(t, st, "susan")

	newName, blurb := "johnny", "hello there"
	if err := st.UpdateProfile(ctx, john, models.ProfileUpdate{Username: &newName, AboutMe: &blurb}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	a, err := st.FindAccountByUsername(ctx, "johnny")
	if err != nil {
		t.Fatalf("renamed account not found: %v", err)
	}
	if a.ID != john || a.AboutMe != blurb {
		t.Fatalf("unexpected account after update: %+v", a)
	}
	if _, err := st.FindAccountByUsername(ctx, "john"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("old username must be released, got %v", err)
	}

	taken := "susan"
	if err := st.UpdateProfile(ctx, john, models.ProfileUpdate{Username: &taken}); !errors.Is(err, store.ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}

	same := "johnny"
	if err := st.UpdateProfile(ctx, john, models.ProfileUpdate{Username: &same}); err != nil {
		t.Fatalf("renaming to own username must succeed, got %v", err)
	}

	// released names are reusable
	MustAccount(t, st, "john")

	if err := st.UpdateProfile(ctx, uuid.Must(uuid.NewV7()), models.ProfileUpdate{AboutMe: &blurb}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown account, got %v", err)
	}
}

func testCreatePostUnknownAccount(t *testing.T, st store.StoreInterface) {
	_, err := st.CreatePost(context.Background(), uuid.Must(uuid.NewV7()), "orphan", time.Now())
	if !errors.Is(err, store.ErrUnknownAccount) {
		t.Fatalf("expected ErrUnknownAccount, got %v", err)
	}
}

func testListPostsByAuthor(t *testing.T, st store.StoreInterface) {
	ctx := context.Background()
	john := MustAccount(t, st, "john")
	other := MustAccount(t, st, "susan")

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	p1 := MustPost(t, st, john, "one", base.Add(time.Second))
	p2 := MustPost(t, st, john, "two", base.Add(3*time.Second))
	// same timestamp: later id wins the tie
	p3 := MustPost(t, st, john, "three", base.Add(2*time.Second))
	p4 := MustPost(t, st, john, "four", base.Add(2*time.Second))
	MustPost(t, st, other, "not john", base.Add(5*time.Second))

	all, err := st.ListPostsByAuthor(ctx, john, models.Page{Limit: 10})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if diff := cmp.Diff([]uuid.UUID{p2, p4, p3, p1}, PostIDs(all)); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
	for _, p := range all {
		if p.AuthorID != john {
			t.Fatalf("post %s has author %s", p.ID, p.AuthorID)
		}
	}

	first, err := st.ListPostsByAuthor(ctx, john, models.Page{Limit: 2})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	rest, err := st.ListPostsByAuthor(ctx, john, models.Page{Before: models.CursorOf(first[len(first)-1]), Limit: 10})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if diff := cmp.Diff(PostIDs(all), append(PostIDs(first), PostIDs(rest)...)); diff != "" {
		t.Fatalf("pages do not concatenate to the full list (-want +got):\n%s", diff)
	}

	none, err := st.ListPostsByAuthor(ctx, uuid.Must(uuid.NewV7()), models.Page{Limit: 10})
	if err != nil || len(none) != 0 {
		t.Fatalf("expected empty list for unknown author, got %v, %v", none, err)
	}
}

func testFollowIsDirected(t *testing.T, st store.StoreInterface) {
	ctx := context.Background()
	a := MustAccount(t, st, "a")
	b := MustAccount(t, st, "b")

	if err := st.Follow(ctx, a, b); err != nil {
		t.Fatalf("follow failed: %v", err)
	}
	if ok, err := st.IsFollowing(ctx, a, b); err != nil || !ok {
		t.Fatalf("expected a->b, got %v, %v", ok, err)
	}
	if ok, err := st.IsFollowing(ctx, b, a); err != nil || ok {
		t.Fatalf("follow must not be symmetric, got %v, %v", ok, err)
	}

	if n, _ := st.FollowedCount(ctx, a); n != 1 {
		t.Fatalf("expected followed count 1, got %d", n)
	}
	if n, _ := st.FollowerCount(ctx, b); n != 1 {
		t.Fatalf("expected follower count 1, got %d", n)
	}
	if n, _ := st.FollowerCount(ctx, a); n != 0 {
		t.Fatalf("expected follower count 0, got %d", n)
	}

	followers, err := st.ListFollowers(ctx, b)
	if err != nil {
		t.Fatalf("list followers failed: %v", err)
	}
	if diff := cmp.Diff([]uuid.UUID{a}, followers); diff != "" {
		t.Fatalf("unexpected followers (-want +got):\n%s", diff)
	}
}

func testFollowIsIdempotent(t *testing.T, st store.StoreInterface) {
	ctx := context.Background()
	a := MustAccount(t, st, "a")
	b := MustAccount(t, st, "b")

	for i := 0; i < 2; i++ {
		if err := st.Follow(ctx, a, b); err != nil {
			t.Fatalf("follow #%d failed: %v", i+1, err)
		}
	}
	if n, _ := st.FollowedCount(ctx, a); n != 1 {
		t.Fatalf("expected exactly one edge, got %d", n)
	}
	followed, _ := st.ListFollowed(ctx, a)
	if len(followed) != 1 {
		t.Fatalf("expected exactly one followed account, got %v", followed)
	}
}

func testConcurrentFollow(t *testing.T, st store.StoreInterface) {
	ctx := context.Background()
	a := MustAccount(t, st, "a")
	b := MustAccount(t, st, "b")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := st.Follow(ctx, a, b); err != nil {
				t.Errorf("concurrent follow failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if n, _ := st.FollowerCount(ctx, b); n != 1 {
		t.Fatalf("expected one edge after concurrent follows, got %d", n)
	}
}

func testUnfollowAbsentEdge(t *testing.T, st store.StoreInterface) {
	ctx := context.Background()
	a := MustAccount(t, st, "a")
	b := MustAccount(t, st, "b")

	if err := st.Unfollow(ctx, a, b); err != nil {
		t.Fatalf("unfollow of absent edge must succeed, got %v", err)
	}
	if ok, _ := st.IsFollowing(ctx, a, b); ok {
		t.Fatalf("no edge expected")
	}
}

func testSelfFollow(t *testing.T, st store.StoreInterface) {
	ctx := context.Background()
	a := MustAccount(t, st, "a")

	if err := st.Follow(ctx, a, a); !errors.Is(err, store.ErrSelfFollow) {
		t.Fatalf("expected ErrSelfFollow, got %v", err)
	}
	if err := st.Unfollow(ctx, a, a); !errors.Is(err, store.ErrSelfFollow) {
		t.Fatalf("expected ErrSelfFollow on unfollow, got %v", err)
	}
	if ok, _ := st.IsFollowing(ctx, a, a); ok {
		t.Fatalf("self edge must not exist")
	}
	if n, _ := st.FollowedCount(ctx, a); n != 0 {
		t.Fatalf("expected no edges, got %d", n)
	}
}

func testFollowUnknownAccount(t *testing.T, st store.StoreInterface) {
	ctx := context.Background()
	a := MustAccount(t, st, "a")
	ghost := uuid.Must(uuid.NewV7())

	if err := st.Follow(ctx, a, ghost); !errors.Is(err, store.ErrUnknownAccount) {
		t.Fatalf("expected ErrUnknownAccount, got %v", err)
	}
	if err := st.Follow(ctx, ghost, a); !errors.Is(err, store.ErrUnknownAccount) {
		t.Fatalf("expected ErrUnknownAccount, got %v", err)
	}
	if n, _ := st.FollowerCount(ctx, a); n != 0 {
		t.Fatalf("no edge expected, got %d", n)
	}
}

func testFollowRoundTrip(t *testing.T, st store.StoreInterface) {
	ctx := context.Background()
	a := MustAccount(t, st, "a")
	b := MustAccount(t, st, "b")
	c := MustAccount(t, st, "c")

	if err := st.Follow(ctx, a, c); err != nil {
		t.Fatalf("follow failed: %v", err)
	}
	before, _ := st.ListFollowed(ctx, a)
	beforeFollowers, _ := st.ListFollowers(ctx, b)

	if err := st.Follow(ctx, a, b); err != nil {
		t.Fatalf("follow failed: %v", err)
	}
	if err := st.Unfollow(ctx, a, b); err != nil {
		t.Fatalf("unfollow failed: %v", err)
	}

	after, _ := st.ListFollowed(ctx, a)
	afterFollowers, _ := st.ListFollowers(ctx, b)
	if diff := cmp.Diff(sortedIDs(before), sortedIDs(after)); diff != "" {
		t.Fatalf("followed set changed (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(sortedIDs(beforeFollowers), sortedIDs(afterFollowers)); diff != "" {
		t.Fatalf("follower set changed (-before +after):\n%s", diff)
	}
}

func testFeedScenario(t *testing.T, st store.StoreInterface) {
	s := SeedScenario(t, st)
	engine := feed.New(st, feed.Options{})

	tests := []struct {
		name    string
		account uuid.UUID
		want    []uuid.UUID
	}{
		{"john", s.John, []uuid.UUID{s.SusanPost, s.DavidPost, s.JohnPost}},
		{"susan", s.Susan, []uuid.UUID{s.SusanPost, s.MaryPost}},
		{"mary", s.Mary, []uuid.UUID{s.MaryPost, s.DavidPost}},
		{"david", s.David, []uuid.UUID{s.DavidPost}},
	}
	for _, tt := range tests {
		posts, next, err := engine.FeedFor(context.Background(), tt.account, models.Page{})
		if err != nil {
			t.Fatalf("%s: feed failed: %v", tt.name, err)
		}
		if diff := cmp.Diff(tt.want, PostIDs(posts)); diff != "" {
			t.Fatalf("%s: unexpected feed (-want +got):\n%s", tt.name, diff)
		}
		if next != nil {
			t.Fatalf("%s: short page must not carry a next cursor", tt.name)
		}
	}
}

func testFeedIncludesOwnPosts(t *testing.T, st store.StoreInterface) {
	a := MustAccount(t, st, "loner")
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	p1 := MustPost(t, st, a, "first", base)
	p2 := MustPost(t, st, a, "second", base.Add(time.Minute))

	posts, _, err := feed.New(st, feed.Options{}).FeedFor(context.Background(), a, models.Page{})
	if err != nil {
		t.Fatalf("feed failed: %v", err)
	}
	if diff := cmp.Diff([]uuid.UUID{p2, p1}, PostIDs(posts)); diff != "" {
		t.Fatalf("own posts missing (-want +got):\n%s", diff)
	}
}
