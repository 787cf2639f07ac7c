package postgres

import (
	"context"
	"os"
	"testing"

	"example.com/microblog/internal/store"
	"example.com/microblog/internal/store/storetest"
)

func TestMigrateURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/db?sslmode=disable":   "pgx5://u:p@localhost:5432/db?sslmode=disable",
		"postgresql://u:p@localhost:5432/db?sslmode=disable": "pgx5://u:p@localhost:5432/db?sslmode=disable",
		"pgx5://already": "pgx5://already",
	}
	for in, want := range cases {
		if got := migrateURL(in); got != want {
			t.Errorf("migrateURL(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestPostgresStore needs a disposable database; every subtest truncates it.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	storetest.Run(t, func(t *testing.T) store.StoreInterface {
		ctx := context.Background()
		st, err := Connect(ctx, dsn)
		if err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		if _, err := st.pool.Exec(ctx, `TRUNCATE follows, posts, accounts`); err != nil {
			t.Fatalf("truncate failed: %v", err)
		}
		return st
	})
}
