package models

import (
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestPrecedes_NewerFirst(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	older := Post{ID: uuid.Must(uuid.NewV7()), Created: base}
	newer := Post{ID: uuid.Must(uuid.NewV7()), Created: base.Add(time.Second)}

	if !Precedes(newer, older) {
		t.Fatalf("expected newer post first")
	}
	if Precedes(older, newer) {
		t.Fatalf("older post must not precede newer post")
	}
}

// equal timestamps fall back to descending id
func TestPrecedes_TieBreakOnID(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	first := Post{ID: uuid.Must(uuid.NewV7()), Created: ts}
	second := Post{ID: uuid.Must(uuid.NewV7()), Created: ts}

	if !Precedes(second, first) {
		t.Fatalf("later-allocated id must come first on a timestamp tie")
	}
	if Precedes(first, first) {
		t.Fatalf("a post must not precede itself")
	}

	posts := []Post{first, second, first}
	sort.SliceStable(posts, func(i, j int) bool { return Precedes(posts[i], posts[j]) })
	if posts[0].ID != second.ID {
		t.Fatalf("unexpected order: %+v", posts)
	}
}

func TestCursor_Admits(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	a := Post{ID: uuid.Must(uuid.NewV7()), Created: ts.Add(time.Minute)}
	b := Post{ID: uuid.Must(uuid.NewV7()), Created: ts}

	var none *Cursor
	if !none.Admits(a) {
		t.Fatalf("nil cursor must admit every post")
	}

	c := CursorOf(a)
	if c.Admits(a) {
		t.Fatalf("cursor must exclude its own post")
	}
	if !c.Admits(b) {
		t.Fatalf("cursor must admit older posts")
	}
}

func TestCursor_EncodeDecode(t *testing.T) {
	c := &Cursor{Created: time.Unix(1700000000, 123456789).UTC(), ID: uuid.Must(uuid.NewV7())}

	got, err := DecodeCursor(c.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !got.Created.Equal(c.Created) || got.ID != c.ID {
		t.Fatalf("expected %+v, got %+v", c, got)
	}

	empty, err := DecodeCursor("")
	if err != nil || empty != nil {
		t.Fatalf("empty token should decode to nil cursor, got %+v, %v", empty, err)
	}
}

func TestDecodeCursor_Invalid(t *testing.T) {
	for _, token := range []string{"!!!", "bm9kb3Q", "YWJjLmRlZg"} {
		if _, err := DecodeCursor(token); err != ErrInvalidCursor {
			t.Fatalf("token %q: expected ErrInvalidCursor, got %v", token, err)
		}
	}
}
