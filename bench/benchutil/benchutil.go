// Package benchutil holds the HTTP client, account setup and latency
// statistics shared by the bench programs.
package benchutil

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"
)

// Account is what the server returns on registration.
type Account struct {
	Username string `json:"-"`
	UserID   string `json:"user_id"`
	Token    string `json:"token"`
}

// Post mirrors the post JSON returned by the API.
type Post struct {
	ID       string    `json:"id"`
	AuthorID string    `json:"author_id"`
	Body     string    `json:"body"`
	Created  time.Time `json:"created"`
}

// FeedPage is one page of GET /feed.
type FeedPage struct {
	Posts      []Post `json:"posts"`
	NextCursor string `json:"next_cursor"`
}

// Client talks to one server. Insecure skips certificate checks for
// self-signed development certificates.
type Client struct {
	Base string
	HTTP *http.Client
}

func NewClient(base string, insecure bool) *Client {
	return &Client{
		Base: base,
		HTTP: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig:     &tls.Config{InsecureSkipVerify: insecure},
				MaxIdleConnsPerHost: 256,
			},
			Timeout: 10 * time.Second,
		},
	}
}

// Do sends a JSON request and decodes a 2xx JSON response into out when out
// is non-nil. It returns the status code.
func (c *Client) Do(ctx context.Context, method, path, token string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out != nil {
		return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// Register creates an account with a throwaway email and password.
func (c *Client) Register(ctx context.Context, username string) (Account, error) {
	acc := Account{Username: username}
	_, err := c.Do(ctx, http.MethodPost, "/users", "", map[string]string{
		"username": username,
		"email":    username + "@bench.local",
		"password": "bench-password",
	}, &acc)
	return acc, err
}

// Stats are latency figures in milliseconds.
type Stats struct {
	Count       int
	TrimmedMean float64
	P50         float64
	P90         float64
	P99         float64
}

func (s Stats) String() string {
	return fmt.Sprintf("count=%d trimmed_mean=%.2f p50=%.2f p90=%.2f p99=%.2f",
		s.Count, s.TrimmedMean, s.P50, s.P90, s.P99)
}

// Summarize sorts data in place and computes Stats, trimming trimPercent from
// each end for the mean.
func Summarize(data []float64, trimPercent float64) Stats {
	sort.Float64s(data)
	return Stats{
		Count:       len(data),
		TrimmedMean: trimmedMean(data, trimPercent),
		P50:         percentile(data, 50),
		P90:         percentile(data, 90),
		P99:         percentile(data, 99),
	}
}

// trimmedMean expects sorted data.
func trimmedMean(data []float64, trimPercent float64) float64 {
	if len(data) == 0 {
		return 0
	}
	trim := int(float64(len(data)) * trimPercent / 100.0)
	if trim*2 >= len(data) {
		trim = (len(data) - 1) / 2
	}
	trimmed := data[trim : len(data)-trim]
	var sum float64
	for _, v := range trimmed {
		sum += v
	}
	return sum / float64(len(trimmed))
}

// percentile interpolates linearly over sorted data.
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	k := (p / 100.0) * float64(len(data)-1)
	f := int(k)
	c := f + 1
	if c >= len(data) {
		return data[len(data)-1]
	}
	return data[f]*(float64(c)-k) + data[c]*(k-float64(f))
}

// WriteCSV saves latencies under a single latency_ms column.
func WriteCSV(path string, latencies []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write([]string{"latency_ms"})
	for _, v := range latencies {
		w.Write([]string{fmt.Sprintf("%.3f", v)})
	}
	w.Flush()
	return w.Error()
}
