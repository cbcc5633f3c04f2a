package postgres

import (
	"context"
	"os"
	"testing"

	"spinmill/backend/internal/store/storetest"
)

func TestRepositoryAgainstPostgres(t *testing.T) {
	databaseURL := os.Getenv("MILL_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set MILL_TEST_DATABASE_URL to run postgres integration test")
	}

	s, err := New(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	storetest.Run(t, s)
}

func TestDialectNumbersPlaceholders(t *testing.T) {
	d := Dialect()
	if !d.NumberedPlaceholders || d.IsUniqueViolation == nil || len(d.Schema) == 0 {
		t.Fatalf("unexpected dialect: %+v", d)
	}
}
