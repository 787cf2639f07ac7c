package benchutil

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSummarize(t *testing.T) {
	data := []float64{5, 1, 4, 2, 3}
	s := Summarize(data, 0)

	if s.Count != 5 || s.TrimmedMean != 3 || s.P50 != 3 || s.P99 > 5 || s.P99 < 4.9 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if data[0] != 1 || data[4] != 5 {
		t.Fatalf("expected data sorted in place, got %v", data)
	}

	if got := Summarize([]float64{1, 100}, 50).TrimmedMean; math.Abs(got-50.5) > 1e-9 {
		t.Fatalf("trimming must keep at least one value, got %v", got)
	}
	if got := Summarize(nil, 1); got.Count != 0 || got.P90 != 0 {
		t.Fatalf("unexpected empty stats: %+v", got)
	}
}

func TestClientRegister(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if r.URL.Path != "/users" || body["username"] != "bench" || !strings.HasSuffix(body["email"], "@bench.local") {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"user_id": "u1", "token": "t1"})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, false)
	acc, err := c.Register(context.Background(), "bench")
	if err != nil || acc.UserID != "u1" || acc.Token != "t1" || acc.Username != "bench" {
		t.Fatalf("unexpected account %+v, %v", acc, err)
	}

	if _, err := c.Register(context.Background(), "other"); err == nil {
		t.Fatal("expected error on 400")
	}
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lat.csv")
	if err := WriteCSV(path, []float64{1.5, 2}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	b, _ := os.ReadFile(path)
	if string(b) != "latency_ms\n1.500\n2.000\n" {
		t.Fatalf("unexpected csv %q", b)
	}
}
