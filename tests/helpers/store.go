package helpers

import (
	"fmt"
	"strings"
	"testing"

	"github.com/querylab/orchestrator/store"
)

func NewTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	// A named shared in-memory database keeps all pooled connections on the
	// same data; a bare ":memory:" gives every connection its own.
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := store.NewSQLiteStore(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}
