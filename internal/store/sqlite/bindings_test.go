package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/qqrelay/internal/store/storetest"
)

func TestBindingStore_Conformance(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "bindings.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	storetest.Run(t, s)
}
