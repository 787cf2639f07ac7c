package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"example.com/microblog/bench/benchutil"
)

func main() {
	// --- Command-line flags ---
	var (
		server      string
		duration    int
		concurrency int
		readRatio   float64
		csvFile     string
		trimPercent float64
		insecure    bool
	)

	flag.StringVar(&server, "server", "http://localhost:8080", "server base URL")
	flag.IntVar(&duration, "duration", 30, "duration in seconds")
	flag.IntVar(&concurrency, "c", 50, "number of concurrent goroutines / users")
	flag.Float64Var(&readRatio, "reads", 0.8, "fraction of requests that read the feed instead of posting")
	flag.StringVar(&csvFile, "csv", "latencies.csv", "CSV file to save latencies")
	flag.Float64Var(&trimPercent, "trim", 1.0, "percent of latency to trim from top and bottom for trimmed mean")
	flag.BoolVar(&insecure, "insecure", true, "skip TLS certificate verification")
	flag.Parse()

	ctx := context.Background()
	client := benchutil.NewClient(server, insecure)

	// --- Create users, each following the previous one ---
	fmt.Printf("Creating %d users...\n", concurrency)
	run := time.Now().UnixNano()
	users := make([]benchutil.Account, concurrency)
	for i := range users {
		acc, err := client.Register(ctx, fmt.Sprintf("load-%d-%d", run, i))
		if err != nil {
			panic(fmt.Sprintf("failed to create user: %v", err))
		}
		users[i] = acc
		if i > 0 {
			if _, err := client.Do(ctx, http.MethodPost, "/follow/"+users[i-1].Username, acc.Token, nil, nil); err != nil {
				panic(fmt.Sprintf("failed to follow: %v", err))
			}
		}
	}
	fmt.Println("Users created.")

	// --- Run the mixed read/write load ---
	stopTime := time.Now().Add(time.Duration(duration) * time.Second)
	var wg sync.WaitGroup

	var requests, errors4xx, errors5xx, transport atomic.Int64
	readLat := make([][]float64, concurrency)
	writeLat := make([][]float64, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			user := users[idx]
			rng := rand.New(rand.NewSource(int64(idx)))

			for time.Now().Before(stopTime) {
				start := time.Now()
				read := rng.Float64() < readRatio

				var status int
				var err error
				if read {
					var page benchutil.FeedPage
					status, err = client.Do(ctx, http.MethodGet, "/feed?limit=20", user.Token, nil, &page)
				} else {
					body := map[string]string{"body": fmt.Sprintf("load test post %d", time.Now().UnixNano())}
					status, err = client.Do(ctx, http.MethodPost, "/posts", user.Token, body, nil)
				}
				lat := time.Since(start).Seconds() * 1000 // latency in ms
				requests.Add(1)

				switch {
				case status >= 500:
					errors5xx.Add(1)
				case status >= 400:
					errors4xx.Add(1)
				case err != nil:
					transport.Add(1)
				case read:
					readLat[idx] = append(readLat[idx], lat)
				default:
					writeLat[idx] = append(writeLat[idx], lat)
				}
			}
		}(i)
	}

	wg.Wait()

	// --- Merge and report ---
	var reads, writes []float64
	for i := range users {
		reads = append(reads, readLat[i]...)
		writes = append(writes, writeLat[i]...)
	}

	fmt.Printf("Requests: %d  4xx: %d  5xx: %d  transport errors: %d\n",
		requests.Load(), errors4xx.Load(), errors5xx.Load(), transport.Load())
	fmt.Printf("Feed reads (ms): %s\n", benchutil.Summarize(reads, trimPercent))
	fmt.Printf("Post writes (ms): %s\n", benchutil.Summarize(writes, trimPercent))

	if err := benchutil.WriteCSV(csvFile, append(reads, writes...)); err != nil {
		fmt.Printf("Failed to write CSV file: %v\n", err)
		return
	}
	fmt.Printf("Saved latencies to %s\n", csvFile)
}
