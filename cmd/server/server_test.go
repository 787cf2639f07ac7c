package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	appkafka "example.com/microblog/internal/broker"
	"example.com/microblog/internal/auth"
	"example.com/microblog/internal/events"
	"example.com/microblog/internal/feed"
	"example.com/microblog/internal/models"
	"example.com/microblog/internal/store"
	"example.com/microblog/internal/store/storetest"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

const testSecret = "test-secret"

//
// --- Helpers ---
//

// generate JWT token for test user
func makeTestJWT(userID uuid.UUID) string {
	token, err := auth.IssueToken(testSecret, userID, time.Hour)
	if err != nil {
		panic(err)
	}
	return token
}

// send a JSON request with an optional bearer token and check the status
func sendJSONRequest(t *testing.T, method, url string, body any, token string, expectedStatus int) *http.Response {
	t.Helper()

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal failed: %v", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if resp.StatusCode != expectedStatus {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("%s %s: expected %d, got %d: %s", method, url, expectedStatus, resp.StatusCode, string(b))
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return v
}

//
// --- Setup test server ---
//

func setupTestServer(t *testing.T) (*Server, *store.MemoryStore, *appkafka.MockKafka, *httptest.Server) {
	t.Helper()
	mockStore := store.NewMemory()
	mockKafka := &appkafka.MockKafka{Store: mockStore}

	s := New(mockStore, mockKafka, Options{
		JWTSecret: testSecret,
		Feed:      feed.Options{DefaultLimit: 20, MaxLimit: 50},
	})
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return s, mockStore, mockKafka, ts
}

// helper: register a user over HTTP
func createUserHelper(t *testing.T, ts *httptest.Server, name string) tokenResponse {
	t.Helper()
	resp := sendJSONRequest(t, http.MethodPost, ts.URL+"/users", map[string]string{
		"username": name,
		"email":    name + "@example.com",
		"password": "password-" + name,
	}, "", http.StatusCreated)
	return decode[tokenResponse](t, resp)
}

// helper: get user feed using JWT token
func getFeedHelper(t *testing.T, ts *httptest.Server, token, query string) pageResponse {
	t.Helper()
	resp := sendJSONRequest(t, http.MethodGet, ts.URL+"/feed"+query, nil, token, http.StatusOK)
	return decode[pageResponse](t, resp)
}

func bodies(posts []models.Post) []string {
	res := make([]string, len(posts))
	for i, p := range posts {
		res[i] = p.Body
	}
	return res
}

//
// --- Tests ---
//

// create a new user and use the returned token
func TestCreateUser(t *testing.T) {
	_, _, mockKafka, ts := setupTestServer(t)

	created := createUserHelper(t, ts, "almaz")
	if created.UserID == uuid.Nil || created.Token == "" {
		t.Fatalf("expected user id and token, got %+v", created)
	}

	me := decode[models.Account](t, sendJSONRequest(t, http.MethodGet, ts.URL+"/me", nil, created.Token, http.StatusOK))
	if me.Username != "almaz" || me.Email != "almaz@example.com" {
		t.Fatalf("unexpected account: %+v", me)
	}

	var sawCreated bool
	for _, e := range mockKafka.Written() {
		if e.Type == events.AccountCreated && e.AccountID == created.UserID {
			sawCreated = true
		}
	}
	if !sawCreated {
		t.Fatal("expected account.created event")
	}
}

func TestCreateUser_Duplicate(t *testing.T) {
	_, _, _, ts := setupTestServer(t)
	createUserHelper(t, ts, "almaz")

	sendJSONRequest(t, http.MethodPost, ts.URL+"/users", map[string]string{
		"username": "almaz", "email": "other@example.com", "password": "secret123",
	}, "", http.StatusConflict)
}

// invalid JSON for creating user
func TestCreateUser_InvalidJSON(t *testing.T) {
	_, _, _, ts := setupTestServer(t)

	body := []byte(`{"username":123}`)
	resp, err := http.Post(ts.URL+"/users", "application/json", bytes.NewBuffer(body))
	if err != nil {
		t.Fatalf("http.Post failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateUser_Validation(t *testing.T) {
	_, _, _, ts := setupTestServer(t)

	tests := []struct {
		name string
		body map[string]string
	}{
		{"empty username", map[string]string{"username": "", "email": "a@example.com", "password": "secret123"}},
		{"long username", map[string]string{"username": strings.Repeat("a", 65), "email": "a@example.com", "password": "secret123"}},
		{"padded username", map[string]string{"username": " almaz", "email": "a@example.com", "password": "secret123"}},
		{"bad email", map[string]string{"username": "almaz", "email": "nope", "password": "secret123"}},
		{"short password", map[string]string{"username": "almaz", "email": "a@example.com", "password": "123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sendJSONRequest(t, http.MethodPost, ts.URL+"/users", tt.body, "", http.StatusBadRequest).Body.Close()
		})
	}
}

func TestLogin(t *testing.T) {
	_, _, _, ts := setupTestServer(t)
	created := createUserHelper(t, ts, "nur")

	got := decode[tokenResponse](t, sendJSONRequest(t, http.MethodPost, ts.URL+"/login",
		map[string]string{"username": "nur", "password": "password-nur"}, "", http.StatusOK))
	if got.UserID != created.UserID {
		t.Fatalf("expected %s, got %s", created.UserID, got.UserID)
	}

	sendJSONRequest(t, http.MethodPost, ts.URL+"/login",
		map[string]string{"username": "nur", "password": "wrong"}, "", http.StatusUnauthorized).Body.Close()
	sendJSONRequest(t, http.MethodPost, ts.URL+"/login",
		map[string]string{"username": "ghost", "password": "password-nur"}, "", http.StatusUnauthorized).Body.Close()
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	_, _, _, ts := setupTestServer(t)

	for _, path := range []string{"/feed", "/me", "/users/almaz"} {
		sendJSONRequest(t, http.MethodGet, ts.URL+path, nil, "", http.StatusUnauthorized).Body.Close()
		sendJSONRequest(t, http.MethodGet, ts.URL+path, nil, "garbage", http.StatusUnauthorized).Body.Close()
	}
}

// full flow: follow -> post -> feed
func TestFollowAndFeedFlow(t *testing.T) {
	_, _, _, ts := setupTestServer(t)

	almaz := createUserHelper(t, ts, "almaz")
	nur := createUserHelper(t, ts, "nur")

	// Almaz -> follow Nur
	sendJSONRequest(t, http.MethodPost, ts.URL+"/follow/nur", nil, almaz.Token, http.StatusNoContent).Body.Close()

	// Nur -> create post
	postBody := "Hello from Nur!"
	post := decode[models.Post](t, sendJSONRequest(t, http.MethodPost, ts.URL+"/posts",
		map[string]string{"body": postBody}, nur.Token, http.StatusCreated))
	if post.AuthorID != nur.UserID || post.ID == uuid.Nil {
		t.Fatalf("unexpected post: %+v", post)
	}

	// Almaz sees it immediately
	page := getFeedHelper(t, ts, almaz.Token, "")
	if diff := cmp.Diff([]string{postBody}, bodies(page.Posts)); diff != "" {
		t.Fatalf("unexpected feed (-want +got):\n%s", diff)
	}

	// and stops seeing it after unfollowing
	sendJSONRequest(t, http.MethodPost, ts.URL+"/unfollow/nur", nil, almaz.Token, http.StatusNoContent).Body.Close()
	if page := getFeedHelper(t, ts, almaz.Token, ""); len(page.Posts) != 0 {
		t.Fatalf("expected empty feed after unfollow, got %v", bodies(page.Posts))
	}
}

// the four-account scenario served over HTTP
func TestFeedScenario(t *testing.T) {
	_, st, _, ts := setupTestServer(t)
	s := storetest.SeedScenario(t, st)

	tests := []struct {
		name    string
		account uuid.UUID
		want    []string
	}{
		{"john", s.John, []string{"post from susan", "post from david", "post from john"}},
		{"susan", s.Susan, []string{"post from susan", "post from mary"}},
		{"mary", s.Mary, []string{"post from mary", "post from david"}},
		{"david", s.David, []string{"post from david"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := getFeedHelper(t, ts, makeTestJWT(tt.account), "")
			if diff := cmp.Diff(tt.want, bodies(page.Posts)); diff != "" {
				t.Fatalf("unexpected feed (-want +got):\n%s", diff)
			}
			if page.NextCursor != "" {
				t.Fatalf("short page must not carry a cursor, got %q", page.NextCursor)
			}
		})
	}
}

func TestFeedPagination(t *testing.T) {
	_, st, _, ts := setupTestServer(t)
	a := storetest.MustAccount(t, st, "writer")
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		storetest.MustPost(t, st, a, string(rune('a'+i)), base.Add(time.Duration(i)*time.Second))
	}
	token := makeTestJWT(a)

	var got []string
	query := "?limit=2"
	for pages := 0; ; pages++ {
		if pages > 5 {
			t.Fatal("pagination did not terminate")
		}
		page := getFeedHelper(t, ts, token, query)
		got = append(got, bodies(page.Posts)...)
		if page.NextCursor == "" {
			break
		}
		query = "?limit=2&cursor=" + page.NextCursor
	}

	if diff := cmp.Diff([]string{"e", "d", "c", "b", "a"}, got); diff != "" {
		t.Fatalf("unexpected walk (-want +got):\n%s", diff)
	}
}

func TestFeed_BadQuery(t *testing.T) {
	_, st, _, ts := setupTestServer(t)
	token := makeTestJWT(storetest.MustAccount(t, st, "john"))

	for _, q := range []string{"?limit=abc", "?limit=-1", "?cursor=%21%21%21"} {
		sendJSONRequest(t, http.MethodGet, ts.URL+"/feed"+q, nil, token, http.StatusBadRequest).Body.Close()
	}
}

func TestFollow_Errors(t *testing.T) {
	_, _, _, ts := setupTestServer(t)
	almaz := createUserHelper(t, ts, "almaz")

	sendJSONRequest(t, http.MethodPost, ts.URL+"/follow/almaz", nil, almaz.Token, http.StatusBadRequest).Body.Close()
	sendJSONRequest(t, http.MethodPost, ts.URL+"/follow/ghost", nil, almaz.Token, http.StatusNotFound).Body.Close()
	sendJSONRequest(t, http.MethodPost, ts.URL+"/unfollow/ghost", nil, almaz.Token, http.StatusNotFound).Body.Close()

	// a token for an account that does not exist
	stranger := makeTestJWT(store.NewID())
	sendJSONRequest(t, http.MethodPost, ts.URL+"/follow/almaz", nil, stranger, http.StatusNotFound).Body.Close()
}

func TestProfile(t *testing.T) {
	_, _, _, ts := setupTestServer(t)
	almaz := createUserHelper(t, ts, "almaz")
	nur := createUserHelper(t, ts, "nur")

	sendJSONRequest(t, http.MethodPost, ts.URL+"/follow/nur", nil, almaz.Token, http.StatusNoContent).Body.Close()
	sendJSONRequest(t, http.MethodPost, ts.URL+"/posts", map[string]string{"body": "hi"}, nur.Token, http.StatusCreated).Body.Close()

	prof := decode[profileResponse](t, sendJSONRequest(t, http.MethodGet, ts.URL+"/users/nur", nil, almaz.Token, http.StatusOK))
	if prof.User.Username != "nur" || prof.User.Email != "" {
		t.Fatalf("unexpected public profile: %+v", prof.User)
	}
	if prof.FollowerCount != 1 || prof.FollowedCount != 0 || !prof.IsFollowing {
		t.Fatalf("unexpected counts: %+v", prof)
	}
	if diff := cmp.Diff([]string{"hi"}, bodies(prof.Posts)); diff != "" {
		t.Fatalf("unexpected posts (-want +got):\n%s", diff)
	}

	own := decode[profileResponse](t, sendJSONRequest(t, http.MethodGet, ts.URL+"/users/almaz", nil, almaz.Token, http.StatusOK))
	if own.User.Email != "almaz@example.com" || own.FollowedCount != 1 || own.IsFollowing {
		t.Fatalf("unexpected own profile: %+v", own)
	}

	followers := decode[map[string][]models.Account](t, sendJSONRequest(t, http.MethodGet, ts.URL+"/users/nur/followers", nil, nur.Token, http.StatusOK))
	if len(followers["users"]) != 1 || followers["users"][0].Username != "almaz" {
		t.Fatalf("unexpected followers: %+v", followers)
	}

	sendJSONRequest(t, http.MethodGet, ts.URL+"/users/ghost", nil, almaz.Token, http.StatusNotFound).Body.Close()
}

func TestUpdateProfile(t *testing.T) {
	_, _, _, ts := setupTestServer(t)
	almaz := createUserHelper(t, ts, "almaz")
	createUserHelper(t, ts, "nur")

	about := "hello there"
	acc := decode[models.Account](t, sendJSONRequest(t, http.MethodPatch, ts.URL+"/me",
		map[string]string{"about_me": about}, almaz.Token, http.StatusOK))
	if acc.AboutMe != about || acc.Username != "almaz" {
		t.Fatalf("unexpected account: %+v", acc)
	}

	sendJSONRequest(t, http.MethodPatch, ts.URL+"/me",
		map[string]string{"about_me": strings.Repeat("x", 141)}, almaz.Token, http.StatusBadRequest).Body.Close()
	sendJSONRequest(t, http.MethodPatch, ts.URL+"/me",
		map[string]string{"username": "nur"}, almaz.Token, http.StatusConflict).Body.Close()

	acc = decode[models.Account](t, sendJSONRequest(t, http.MethodPatch, ts.URL+"/me",
		map[string]string{"username": "almaz2"}, almaz.Token, http.StatusOK))
	if acc.Username != "almaz2" || acc.AboutMe != about {
		t.Fatalf("unexpected account after rename: %+v", acc)
	}
	sendJSONRequest(t, http.MethodGet, ts.URL+"/users/almaz", nil, almaz.Token, http.StatusNotFound).Body.Close()
}

func TestCreatePost_Validation(t *testing.T) {
	_, _, _, ts := setupTestServer(t)
	almaz := createUserHelper(t, ts, "almaz")

	sendJSONRequest(t, http.MethodPost, ts.URL+"/posts", map[string]string{"body": ""}, almaz.Token, http.StatusBadRequest).Body.Close()
	sendJSONRequest(t, http.MethodPost, ts.URL+"/posts", map[string]string{"body": "   "}, almaz.Token, http.StatusBadRequest).Body.Close()
	sendJSONRequest(t, http.MethodPost, ts.URL+"/posts", map[string]string{"body": strings.Repeat("é", 141)}, almaz.Token, http.StatusBadRequest).Body.Close()
	sendJSONRequest(t, http.MethodPost, ts.URL+"/posts", map[string]string{"body": strings.Repeat("é", 140)}, almaz.Token, http.StatusCreated).Body.Close()
}

// every authenticated request moves last_seen forward
func TestSeenRecorded(t *testing.T) {
	s, st, mockKafka, ts := setupTestServer(t)
	id := storetest.MustAccount(t, st, "john")
	later := time.Now().Add(time.Hour).UTC()
	s.now = func() time.Time { return later }

	getFeedHelper(t, ts, makeTestJWT(id), "")

	acc, _ := st.FindAccountByID(context.Background(), id)
	if !acc.LastSeen.Equal(later) {
		t.Fatalf("expected last seen %v, got %v", later, acc.LastSeen)
	}

	var seen int
	for _, e := range mockKafka.Written() {
		if e.Type == events.AccountSeen {
			seen++
		}
	}
	if seen != 1 {
		t.Fatalf("expected one account.seen event, got %d", seen)
	}
}

// Kafka write error does not fail the request
func TestKafkaWriteError(t *testing.T) {
	s, st, _, ts := setupTestServer(t)
	s.kafkaWriter = &appkafka.MockKafkaFail{}
	id := storetest.MustAccount(t, st, "john")

	getFeedHelper(t, ts, makeTestJWT(id), "")
	sendJSONRequest(t, http.MethodPost, ts.URL+"/posts", map[string]string{"body": "still works"}, makeTestJWT(id), http.StatusCreated).Body.Close()
}

// Store failure maps to 503
func TestStoreUnavailable(t *testing.T) {
	s := New(&store.MockStoreFail{}, &appkafka.MockKafka{}, Options{JWTSecret: testSecret})
	ts := httptest.NewServer(s.Routes())
	defer ts.Close()

	token := makeTestJWT(store.NewID())
	sendJSONRequest(t, http.MethodGet, ts.URL+"/feed", nil, token, http.StatusServiceUnavailable).Body.Close()
	sendJSONRequest(t, http.MethodPost, ts.URL+"/posts", map[string]string{"body": "x"}, token, http.StatusServiceUnavailable).Body.Close()
	sendJSONRequest(t, http.MethodPost, ts.URL+"/users", map[string]string{
		"username": "almaz", "email": "a@example.com", "password": "secret123",
	}, "", http.StatusServiceUnavailable).Body.Close()
	sendJSONRequest(t, http.MethodPost, ts.URL+"/login", map[string]string{
		"username": "almaz", "password": "secret123",
	}, "", http.StatusServiceUnavailable).Body.Close()
}
