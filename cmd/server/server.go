package server

import (
	"context"
	"net/http"
	"time"

	appkafka "example.com/microblog/internal/broker"
	"example.com/microblog/internal/events"
	"example.com/microblog/internal/feed"
	"example.com/microblog/internal/logger"
	"example.com/microblog/internal/middleware"
	"example.com/microblog/internal/store"
)

type Server struct {
	store       store.StoreInterface
	feed        *feed.Engine
	kafkaWriter appkafka.KafkaWriter
	secret      string
	tokenTTL    time.Duration
	now         func() time.Time
}

// Options configures the HTTP surface.
type Options struct {
	Addr      string
	TLSCert   string // HTTPS is served when both TLSCert and TLSKey are set
	TLSKey    string
	JWTSecret string
	TokenTTL  time.Duration
	Feed      feed.Options
}

var logg = logger.New()

// New wires handlers to their dependencies.
func New(st store.StoreInterface, writer appkafka.KafkaWriter, opts Options) *Server {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	return &Server{
		store:       st,
		feed:        feed.New(st, opts.Feed),
		kafkaWriter: writer,
		secret:      opts.JWTSecret,
		tokenTTL:    opts.TokenTTL,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Routes returns the HTTP handler with public and JWT-protected routes.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints
	mux.HandleFunc("POST /users", s.createUserHandler)
	mux.HandleFunc("POST /login", s.loginHandler)

	// Protected endpoints with JWT authentication middleware
	mux.Handle("GET /users/{username}", s.protect(s.profileHandler))
	mux.Handle("GET /users/{username}/followers", s.protect(s.followersHandler))
	mux.Handle("GET /users/{username}/followed", s.protect(s.followedHandler))
	mux.Handle("GET /me", s.protect(s.meHandler))
	mux.Handle("PATCH /me", s.protect(s.updateProfileHandler))
	mux.Handle("POST /posts", s.protect(s.createPostHandler))
	mux.Handle("POST /follow/{username}", s.protect(s.followHandler))
	mux.Handle("POST /unfollow/{username}", s.protect(s.unfollowHandler))
	mux.Handle("GET /feed", s.protect(s.getFeedHandler))

	return mux
}

func (s *Server) protect(h http.HandlerFunc) http.Handler {
	return middleware.JWTAuth(s.secret)(s.recordSeen(h))
}

// recordSeen publishes account.seen for every authenticated request. A
// publish failure is logged and the request proceeds.
func (s *Server) recordSeen(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := middleware.AccountIDFromContext(r.Context()); ok {
			s.publish("http/seen", events.Seen(id, s.now()))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) publish(module string, evts ...events.Event) {
	if s.kafkaWriter == nil {
		return
	}
	if err := events.Publish(s.kafkaWriter, evts...); err != nil {
		logg.Error(module, "Failed to publish activity event", err)
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, st store.StoreInterface, writer appkafka.KafkaWriter, opts Options) {
	s := New(st, writer, opts)

	srv := &http.Server{
		Addr:         opts.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second, // prevent slowloris attacks
		WriteTimeout: 10 * time.Second,
	}

	// --- Start server in a goroutine ---
	go func() {
		var err error
		if opts.TLSCert != "" && opts.TLSKey != "" {
			logg.Info("server", "Starting HTTPS server on "+opts.Addr)
			err = srv.ListenAndServeTLS(opts.TLSCert, opts.TLSKey)
		} else {
			logg.Info("server", "Starting HTTP server on "+opts.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logg.Error("server", "Server stopped unexpectedly", err)
		}
	}()

	// --- Graceful shutdown ---
	<-ctx.Done()
	logg.Info("server", "Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("server", "Error during server shutdown", err)
	} else {
		logg.Info("server", "Server stopped gracefully")
	}
}
