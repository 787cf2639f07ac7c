// Package feed computes an account's home feed: its own posts merged with the
// posts of every account it follows, newest first.
package feed

import (
	"container/heap"
	"context"

	"example.com/microblog/internal/models"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultLimit  = 20
	defaultMax    = 100
	defaultFanout = 16
)

// Source is the read side the engine needs from storage.
type Source interface {
	ListFollowed(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)
	ListPostsByAuthor(ctx context.Context, authorID uuid.UUID, page models.Page) ([]models.Post, error)
}

type Options struct {
	DefaultLimit int // used when a page asks for <= 0 posts
	MaxLimit     int // upper bound on a single page
	FanoutLimit  int // concurrent per-author reads
}

// Engine is read-only and safe for concurrent use.
type Engine struct {
	src  Source
	opts Options
}

func New(src Source, opts Options) *Engine {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = defaultLimit
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = defaultMax
	}
	if opts.DefaultLimit > opts.MaxLimit {
		opts.DefaultLimit = opts.MaxLimit
	}
	if opts.FanoutLimit <= 0 {
		opts.FanoutLimit = defaultFanout
	}
	return &Engine{src: src, opts: opts}
}

// Limit normalises a requested page size.
func (e *Engine) Limit(requested int) int {
	switch {
	case requested <= 0:
		return e.opts.DefaultLimit
	case requested > e.opts.MaxLimit:
		return e.opts.MaxLimit
	default:
		return requested
	}
}

// FeedFor returns one page of accountID's feed and the cursor of the next page.
// The next cursor is nil once the feed is exhausted. An unknown account has an
// empty feed.
func (e *Engine) FeedFor(ctx context.Context, accountID uuid.UUID, page models.Page) ([]models.Post, *models.Cursor, error) {
	limit := e.Limit(page.Limit)

	followed, err := e.src.ListFollowed(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	authors := authorSet(accountID, followed)

	// Each author contributes at most limit posts after the cursor, which
	// bounds the merge input to len(authors)*limit.
	streams := make([][]models.Post, len(authors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.FanoutLimit)
	for i, author := range authors {
		g.Go(func() error {
			posts, err := e.src.ListPostsByAuthor(gctx, author, models.Page{Before: page.Before, Limit: limit})
			if err != nil {
				return err
			}
			streams[i] = posts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	posts := Merge(streams, limit)

	var next *models.Cursor
	if len(posts) == limit {
		next = models.CursorOf(posts[len(posts)-1])
	}
	return posts, next, nil
}

// authorSet returns owner first, then the distinct followed accounts.
func authorSet(owner uuid.UUID, followed []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(followed)+1)
	seen[owner] = struct{}{}
	authors := append(make([]uuid.UUID, 0, len(followed)+1), owner)
	for _, id := range followed {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		authors = append(authors, id)
	}
	return authors
}

// Merge k-way merges streams that are each already in feed order and returns
// at most limit posts in feed order. A post id seen twice is emitted once.
func Merge(streams [][]models.Post, limit int) []models.Post {
	h := make(cursorHeap, 0, len(streams))
	for _, s := range streams {
		if len(s) > 0 {
			h = append(h, s)
		}
	}
	heap.Init(&h)

	res := make([]models.Post, 0, limit)
	seen := make(map[uuid.UUID]struct{}, limit)
	for h.Len() > 0 && len(res) < limit {
		top := h[0]
		p := top[0]
		if len(top) > 1 {
			h[0] = top[1:]
			heap.Fix(&h, 0)
		} else {
			heap.Pop(&h)
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		res = append(res, p)
	}
	return res
}

// cursorHeap orders non-empty streams by their head post.
type cursorHeap [][]models.Post

func (h cursorHeap) Len() int           { return len(h) }
func (h cursorHeap) Less(i, j int) bool { return models.Precedes(h[i][0], h[j][0]) }
func (h cursorHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x any)        { *h = append(*h, x.([]models.Post)) }
func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
