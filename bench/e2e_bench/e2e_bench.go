package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"example.com/microblog/bench/benchutil"
	"golang.org/x/sync/errgroup"
)

// posted is a post whose visibility is being measured.
type posted struct {
	ID       string
	AuthorID string
	Created  time.Time
}

func main() {
	// CLI flags
	var (
		serverAddr            string
		numUsers, follows     int
		numPosts, concurrency int
		pollTimeout           int
		insecure              bool
	)

	flag.StringVar(&serverAddr, "server", "http://localhost:8080", "server base URL")
	flag.IntVar(&numUsers, "users", 50, "number of users to create")
	flag.IntVar(&follows, "follows", 10, "average follows per user")
	flag.IntVar(&numPosts, "posts", 100, "number of posts to publish")
	flag.IntVar(&concurrency, "c", 20, "concurrency for posting and polling")
	flag.IntVar(&pollTimeout, "timeout", 10, "seconds to wait for a post to become visible")
	flag.BoolVar(&insecure, "insecure", true, "skip TLS certificate verification")
	flag.Parse()

	ctx := context.Background()
	client := benchutil.NewClient(serverAddr, insecure)

	// --- 1) Create users ---
	fmt.Printf("Creating %d users...\n", numUsers)
	run := time.Now().UnixNano()
	users := make([]benchutil.Account, 0, numUsers)
	for i := 0; i < numUsers; i++ {
		acc, err := client.Register(ctx, fmt.Sprintf("e2e-%d-%d", run, i))
		if err != nil {
			fmt.Printf("create user error: %v\n", err)
			os.Exit(1)
		}
		users = append(users, acc)
	}
	tokens := make(map[string]string, len(users))
	for _, u := range users {
		tokens[u.UserID] = u.Token
	}
	fmt.Println("Users created successfully.")

	// --- 2) Create follow relationships between users ---
	fmt.Printf("Creating follows (~%d per user)...\n", follows)
	followers := make(map[string]map[string]bool)
	for _, u := range users {
		for j := 0; j < follows; j++ {
			target := users[rand.Intn(len(users))]
			if target.UserID == u.UserID {
				continue
			}
			if _, err := client.Do(ctx, http.MethodPost, "/follow/"+target.Username, u.Token, nil, nil); err != nil {
				fmt.Printf("follow error: %v\n", err)
				os.Exit(1)
			}
			if followers[target.UserID] == nil {
				followers[target.UserID] = make(map[string]bool)
			}
			followers[target.UserID][u.UserID] = true
		}
	}
	fmt.Println("Follow relationships established.")

	// --- 3) Publish posts concurrently ---
	fmt.Printf("Publishing %d posts with concurrency %d...\n", numPosts, concurrency)
	var mu sync.Mutex
	var posts []posted

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := 0; i < numPosts; i++ {
		g.Go(func() error {
			author := users[rand.Intn(len(users))]
			var p benchutil.Post
			_, err := client.Do(gctx, http.MethodPost, "/posts", author.Token,
				map[string]string{"body": fmt.Sprintf("post %d", rand.Int())}, &p)
			if err != nil {
				fmt.Printf("post error: %v\n", err)
				return nil
			}
			mu.Lock()
			posts = append(posts, posted{ID: p.ID, AuthorID: p.AuthorID, Created: time.Now()})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	// --- 4) Poll followers' feeds until each post is visible ---
	fmt.Println("Checking feed visibility...")
	var latencies []float64
	var fails int

	checks, cctx := errgroup.WithContext(ctx)
	checks.SetLimit(concurrency)
	for _, p := range posts {
		for fid := range followers[p.AuthorID] {
			checks.Go(func() error {
				lat, ok := waitVisible(cctx, client, tokens[fid], p, time.Duration(pollTimeout)*time.Second)
				mu.Lock()
				defer mu.Unlock()
				if ok {
					latencies = append(latencies, lat)
				} else {
					fails++
				}
				return nil
			})
		}
	}
	_ = checks.Wait()

	// --- 5) Compute latency statistics and export to CSV ---
	if len(latencies) == 0 {
		fmt.Println("No successful deliveries recorded.")
		return
	}
	fmt.Printf("Visibility stats (ms): %s fails=%d\n", benchutil.Summarize(latencies, 1.0), fails)
	if err := benchutil.WriteCSV("e2e_latencies.csv", latencies); err != nil {
		fmt.Printf("Failed to write CSV file: %v\n", err)
		return
	}
	fmt.Println("Saved e2e_latencies.csv")
}

// waitVisible pages through the follower's feed until p shows up or the
// timeout passes.
func waitVisible(ctx context.Context, client *benchutil.Client, token string, p posted, timeout time.Duration) (float64, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		cursor := ""
		for {
			var page benchutil.FeedPage
			path := "/feed?limit=100"
			if cursor != "" {
				path += "&cursor=" + cursor
			}
			if _, err := client.Do(ctx, http.MethodGet, path, token, nil, &page); err != nil {
				break
			}
			for _, pp := range page.Posts {
				if pp.ID == p.ID {
					return time.Since(p.Created).Seconds() * 1000, true
				}
			}
			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}
		time.Sleep(50 * time.Millisecond)
	}
	return 0, false
}
