package cassandra

import (
	"context"
	"os"
	"testing"
	"time"

	config "example.com/microblog/internal/init"
	"example.com/microblog/internal/store"
	"example.com/microblog/internal/store/storetest"
	"github.com/google/uuid"
)

func TestUUIDConversion(t *testing.T) {
	id := store.NewID()
	if got := fromCQL(toCQL(id)); got != id {
		t.Fatalf("round trip changed id: %s -> %s", id, got)
	}
	if toCQL(id).String() != id.String() {
		t.Fatalf("expected same textual form, got %s vs %s", toCQL(id), id)
	}
}

func TestCQLTime_TruncatesToMillis(t *testing.T) {
	in := time.Date(2024, 1, 1, 12, 0, 0, 123456789, time.FixedZone("X", 3600))
	got := cqlTime(in)
	if got.Nanosecond() != 123000000 || got.Location() != time.UTC {
		t.Fatalf("unexpected cql time %v", got)
	}
	if !got.Equal(in.Truncate(time.Millisecond)) {
		t.Fatalf("instant changed: %v vs %v", got, in)
	}
}

// TestCassandraStore runs against a live node named by CASSANDRA_TEST_HOST.
// Each subtest gets a fresh keyspace.
func TestCassandraStore(t *testing.T) {
	host := os.Getenv("CASSANDRA_TEST_HOST")
	if host == "" {
		t.Skip("CASSANDRA_TEST_HOST not set")
	}

	storetest.Run(t, func(t *testing.T) store.StoreInterface {
		cfg := &config.Config{
			CassandraHost:     host,
			CassandraKeyspace: "microblog_test_" + uuid.NewString()[:8],
			CassandraTimeout:  30 * time.Second,
		}
		st, err := New(cfg)
		if err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		t.Cleanup(func() {
			sess, err := newCluster(cfg).CreateSession()
			if err == nil {
				_ = sess.Query(`DROP KEYSPACE IF EXISTS ` + cfg.CassandraKeyspace).WithContext(context.Background()).Exec()
				sess.Close()
			}
		})
		return st
	})
}
