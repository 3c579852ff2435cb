package pg

import (
	"context"
	"os"
	"testing"

	"github.com/nextlevelbuilder/qqrelay/internal/store/storetest"
)

// Set QQRELAY_TEST_POSTGRES_DSN to a scratch database to run this.
func TestBindingStore_Conformance(t *testing.T) {
	dsn := os.Getenv("QQRELAY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("QQRELAY_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	db, err := OpenDB(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	s, err := NewBindingStore(ctx, db)
	if err != nil {
		t.Fatalf("NewBindingStore: %v", err)
	}
	defer s.Close()
	if _, err := db.ExecContext(ctx, `TRUNCATE button_bindings`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	storetest.Run(t, s)
}
