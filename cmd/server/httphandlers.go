package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"unicode/utf8"

	"example.com/microblog/internal/auth"
	"example.com/microblog/internal/events"
	"example.com/microblog/internal/middleware"
	"example.com/microblog/internal/models"
	"example.com/microblog/internal/store"
	"github.com/google/uuid"
)

const (
	maxUsernameRunes = 64
	minPasswordLen   = 6
)

// --- Responses ---

type tokenResponse struct {
	UserID uuid.UUID `json:"user_id"`
	Token  string    `json:"token"`
}

type pageResponse struct {
	Posts      []models.Post `json:"posts"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type profileResponse struct {
	User          models.Account `json:"user"`
	FollowerCount int            `json:"followers"`
	FollowedCount int            `json:"followed"`
	IsFollowing   bool           `json:"is_following"`
	pageResponse
}

func newPage(posts []models.Post, next *models.Cursor) pageResponse {
	resp := pageResponse{Posts: posts}
	if resp.Posts == nil {
		resp.Posts = []models.Post{}
	}
	if next != nil {
		resp.NextCursor = next.Encode()
	}
	return resp
}

// public hides fields only the owner may see.
func public(a *models.Account) models.Account {
	v := *a
	v.Email = ""
	v.Credential = nil
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeStoreError maps store errors onto HTTP status codes.
func writeStoreError(w http.ResponseWriter, module string, err error) {
	switch {
	case errors.Is(err, store.ErrDuplicateUsername):
		http.Error(w, "username already taken", http.StatusConflict)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrUnknownAccount):
		http.Error(w, "user not found", http.StatusNotFound)
	case errors.Is(err, store.ErrSelfFollow):
		http.Error(w, "you cannot follow yourself", http.StatusBadRequest)
	case errors.Is(err, store.ErrStorageUnavailable):
		logg.Error(module, "Storage unavailable", err)
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
	default:
		logg.Error(module, "Unexpected error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, module string, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logg.Error(module, "Invalid request body", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func validUsername(name string) bool {
	n := utf8.RuneCountInString(name)
	return n > 0 && n <= maxUsernameRunes && strings.TrimSpace(name) == name
}

// pageFromQuery reads ?limit= and ?cursor=.
func (s *Server) pageFromQuery(r *http.Request) (models.Page, error) {
	q := r.URL.Query()

	var page models.Page
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return models.Page{}, errors.New("limit must be a positive integer")
		}
		page.Limit = n
	}
	page.Limit = s.feed.Limit(page.Limit)

	before, err := models.DecodeCursor(q.Get("cursor"))
	if err != nil {
		return models.Page{}, err
	}
	page.Before = before
	return page, nil
}

func (s *Server) currentAccount(w http.ResponseWriter, r *http.Request, module string) (uuid.UUID, bool) {
	id, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		logg.Info(module, "Unauthorized request")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
	return id, ok
}

// --- HTTP Handlers ---

// createUserHandler registers an account.
// Expects JSON body: {"username": "...", "email": "...", "password": "..."}
// Returns 201 with {"user_id": <id>, "token": <jwt>}.
func (s *Server) createUserHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, "http/users", &body) {
		return
	}

	if !validUsername(body.Username) {
		logg.Info("http/users", "Invalid username length")
		http.Error(w, "username must be 1-64 characters without surrounding spaces", http.StatusBadRequest)
		return
	}
	if _, err := mail.ParseAddress(body.Email); err != nil {
		http.Error(w, "invalid email address", http.StatusBadRequest)
		return
	}
	if len(body.Password) < minPasswordLen {
		http.Error(w, "password must be at least 6 characters", http.StatusBadRequest)
		return
	}

	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		logg.Error("http/users", "Failed to hash password", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	id, err := s.store.CreateAccount(r.Context(), models.Account{
		Username:   body.Username,
		Email:      body.Email,
		Credential: hash,
	})
	if err != nil {
		writeStoreError(w, "http/users", err)
		return
	}
	logg.Info("http/users", "User created successfully with user_id="+id.String())
	s.publish("http/users", events.Created(id, s.now()))

	s.writeToken(w, http.StatusCreated, id)
}

// loginHandler exchanges username and password for a token.
func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, "http/login", &body) {
		return
	}

	acc, err := s.store.FindAccountByUsername(r.Context(), body.Username)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !auth.CheckPassword(acc.Credential, body.Password)) {
		logg.Info("http/login", "Invalid username or password")
		http.Error(w, "invalid username or password", http.StatusUnauthorized)
		return
	}
	if err != nil {
		writeStoreError(w, "http/login", err)
		return
	}

	s.writeToken(w, http.StatusOK, acc.ID)
}

func (s *Server) writeToken(w http.ResponseWriter, status int, id uuid.UUID) {
	token, err := auth.IssueToken(s.secret, id, s.tokenTTL)
	if err != nil {
		logg.Error("http/auth", "Failed to generate token", err)
		http.Error(w, "failed to generate token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, status, tokenResponse{UserID: id, Token: token})
}

// profileHandler returns an account, its follow counts, whether the caller
// follows it and a page of its posts.
// Query parameters: ?limit=20&cursor=<token>
func (s *Server) profileHandler(w http.ResponseWriter, r *http.Request) {
	viewer, ok := s.currentAccount(w, r, "http/profile")
	if !ok {
		return
	}
	page, err := s.pageFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	acc, err := s.store.FindAccountByUsername(ctx, r.PathValue("username"))
	if err != nil {
		writeStoreError(w, "http/profile", err)
		return
	}

	resp := profileResponse{User: public(acc)}
	if viewer == acc.ID {
		resp.User = *acc
		resp.User.Credential = nil
	}
	if resp.FollowerCount, err = s.store.FollowerCount(ctx, acc.ID); err != nil {
		writeStoreError(w, "http/profile", err)
		return
	}
	if resp.FollowedCount, err = s.store.FollowedCount(ctx, acc.ID); err != nil {
		writeStoreError(w, "http/profile", err)
		return
	}
	if viewer != acc.ID {
		if resp.IsFollowing, err = s.store.IsFollowing(ctx, viewer, acc.ID); err != nil {
			writeStoreError(w, "http/profile", err)
			return
		}
	}

	posts, err := s.store.ListPostsByAuthor(ctx, acc.ID, page)
	if err != nil {
		writeStoreError(w, "http/profile", err)
		return
	}
	var next *models.Cursor
	if len(posts) == page.Limit {
		next = models.CursorOf(posts[len(posts)-1])
	}
	resp.pageResponse = newPage(posts, next)

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) followersHandler(w http.ResponseWriter, r *http.Request) {
	s.edgeListHandler(w, r, "http/followers", s.store.ListFollowers)
}

func (s *Server) followedHandler(w http.ResponseWriter, r *http.Request) {
	s.edgeListHandler(w, r, "http/followed", s.store.ListFollowed)
}

type edgeLister func(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)

// edgeListHandler resolves one side of an account's follow edges to public
// account views.
func (s *Server) edgeListHandler(w http.ResponseWriter, r *http.Request, module string, list edgeLister) {
	ctx := r.Context()
	acc, err := s.store.FindAccountByUsername(ctx, r.PathValue("username"))
	if err != nil {
		writeStoreError(w, module, err)
		return
	}

	ids, err := list(ctx, acc.ID)
	if err != nil {
		writeStoreError(w, module, err)
		return
	}

	users := make([]models.Account, 0, len(ids))
	for _, id := range ids {
		other, err := s.store.FindAccountByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			writeStoreError(w, module, err)
			return
		}
		users = append(users, public(other))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) meHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.currentAccount(w, r, "http/me")
	if !ok {
		return
	}
	acc, err := s.store.FindAccountByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, "http/me", err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// updateProfileHandler edits the caller's username and/or about_me.
// Expects JSON body: {"username": "...", "about_me": "..."}, both optional.
func (s *Server) updateProfileHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.currentAccount(w, r, "http/me")
	if !ok {
		return
	}
	var update models.ProfileUpdate
	if !decodeBody(w, r, "http/me", &update) {
		return
	}

	if update.Username != nil && !validUsername(*update.Username) {
		http.Error(w, "username must be 1-64 characters without surrounding spaces", http.StatusBadRequest)
		return
	}
	if update.AboutMe != nil && utf8.RuneCountInString(*update.AboutMe) > models.MaxPostRunes {
		http.Error(w, "about_me must be at most 140 characters", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := s.store.UpdateProfile(ctx, id, update); err != nil {
		writeStoreError(w, "http/me", err)
		return
	}
	acc, err := s.store.FindAccountByID(ctx, id)
	if err != nil {
		writeStoreError(w, "http/me", err)
		return
	}

	logg.Info("http/me", "Profile updated for user_id="+id.String())
	writeJSON(w, http.StatusOK, acc)
}

// createPostHandler stores a post authored by the caller.
// Expects JSON body: {"body": "post content"}
// Returns 201 with the created post.
func (s *Server) createPostHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentAccount(w, r, "http/posts")
	if !ok {
		return
	}
	var body struct {
		Body string `json:"body"`
	}
	if !decodeBody(w, r, "http/posts", &body) {
		return
	}

	if strings.TrimSpace(body.Body) == "" || utf8.RuneCountInString(body.Body) > models.MaxPostRunes {
		logg.Info("http/posts", "Post body length invalid for user_id="+userID.String())
		http.Error(w, "post body must be 1-140 characters", http.StatusBadRequest)
		return
	}

	post := models.Post{
		AuthorID: userID,
		Body:     body.Body,
		Created:  s.now(),
	}
	id, err := s.store.CreatePost(r.Context(), post.AuthorID, post.Body, post.Created)
	if err != nil {
		writeStoreError(w, "http/posts", err)
		return
	}
	post.ID = id

	logg.Info("http/posts", "Post created successfully by user_id="+userID.String())
	s.publish("http/posts", events.Posted(userID, id, post.Created))

	writeJSON(w, http.StatusCreated, post)
}

// followHandler makes the caller follow {username}.
func (s *Server) followHandler(w http.ResponseWriter, r *http.Request) {
	s.changeFollow(w, r, "http/follow", true)
}

// unfollowHandler removes the caller's edge to {username}.
func (s *Server) unfollowHandler(w http.ResponseWriter, r *http.Request) {
	s.changeFollow(w, r, "http/unfollow", false)
}

func (s *Server) changeFollow(w http.ResponseWriter, r *http.Request, module string, follow bool) {
	userID, ok := s.currentAccount(w, r, module)
	if !ok {
		return
	}

	ctx := r.Context()
	target, err := s.store.FindAccountByUsername(ctx, r.PathValue("username"))
	if err != nil {
		writeStoreError(w, module, err)
		return
	}

	evt := events.Followed(userID, target.ID, s.now())
	if follow {
		err = s.store.Follow(ctx, userID, target.ID)
	} else {
		err = s.store.Unfollow(ctx, userID, target.ID)
		evt = events.Unfollowed(userID, target.ID, s.now())
	}
	if err != nil {
		writeStoreError(w, module, err)
		return
	}

	logg.Info(module, "Follow edge updated for user_id="+userID.String())
	s.publish(module, evt)
	w.WriteHeader(http.StatusNoContent)
}

// getFeedHandler returns one page of the caller's home feed.
// Query parameters: ?limit=20&cursor=<token>
func (s *Server) getFeedHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentAccount(w, r, "http/feed")
	if !ok {
		return
	}
	page, err := s.pageFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	posts, next, err := s.feed.FeedFor(r.Context(), userID, page)
	if err != nil {
		writeStoreError(w, "http/feed", err)
		return
	}

	logg.Debug("http/feed", "Feed retrieved for user_id="+userID.String()+" with limit="+strconv.Itoa(page.Limit))
	writeJSON(w, http.StatusOK, newPage(posts, next))
}
