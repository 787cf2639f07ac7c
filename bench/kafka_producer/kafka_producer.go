package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"example.com/microblog/internal/events"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Publishes synthetic account.seen events to measure worker throughput.
func main() {
	var (
		total       int
		batchSize   int
		numWorkers  int
		accounts    int
		kafkaBroker string
		topic       string
	)
	flag.IntVar(&total, "n", 100000, "total number of events to send")
	flag.IntVar(&batchSize, "batch", 100, "batch size for sending events")
	flag.IntVar(&numWorkers, "c", 4, "number of parallel goroutines")
	flag.IntVar(&accounts, "accounts", 1000, "number of distinct synthetic account ids")
	flag.StringVar(&kafkaBroker, "broker", "localhost:29092", "Kafka broker address")
	flag.StringVar(&topic, "topic", "activity-topic", "activity topic")
	flag.Parse()

	// Kafka writer with asynchronous sending enabled
	w := &kafka.Writer{
		Addr:         kafka.TCP(kafkaBroker),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Async:        true,
		BatchTimeout: 10 * time.Millisecond,
	}
	defer w.Close()

	// Ids need not exist: the worker's touch is a no-op for unknown accounts
	ids := make([]uuid.UUID, accounts)
	for i := range ids {
		ids[i] = uuid.Must(uuid.NewV7())
	}

	start := time.Now()
	var successCount, failCount atomic.Uint64

	jobs := make(chan int, total)
	var wg sync.WaitGroup

	for wID := 0; wID < numWorkers; wID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch := make([]kafka.Message, 0, batchSize)

			flush := func() {
				if len(batch) == 0 {
					return
				}
				if err := w.WriteMessages(context.Background(), batch...); err != nil {
					failCount.Add(uint64(len(batch)))
					fmt.Printf("write error: %v\n", err)
				} else {
					successCount.Add(uint64(len(batch)))
				}
				batch = batch[:0]
			}

			for i := range jobs {
				msg, err := events.Seen(ids[i%len(ids)], time.Now()).Message()
				if err != nil {
					failCount.Add(1)
					fmt.Printf("marshal error: %v\n", err)
					continue
				}
				batch = append(batch, msg)
				if len(batch) >= batchSize {
					flush()
				}
			}
			flush()
		}()
	}

	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	wg.Wait()

	// --- Benchmark results ---
	elapsed := time.Since(start)
	fmt.Printf("Total events: %d\n", total)
	fmt.Printf("Successful: %d, Failed: %d\n", successCount.Load(), failCount.Load())
	fmt.Printf("Elapsed time: %s\n", elapsed)
	fmt.Printf("Throughput: %.2f msg/s\n", float64(successCount.Load())/elapsed.Seconds())
}
