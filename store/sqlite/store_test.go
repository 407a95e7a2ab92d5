package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xraph/approvals/store"
	"github.com/xraph/approvals/store/sqlite"
	"github.com/xraph/approvals/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := sqlite.Open(ctx, "file:"+filepath.Join(t.TempDir(), "approvals.db"))
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		return s
	})
}

func TestNew_DoesNotCloseCallerHandle(t *testing.T) {
	ctx := context.Background()
	owner, err := sqlite.Open(ctx, "file:"+filepath.Join(t.TempDir(), "owned.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer owner.Close()

	wrapped := sqlite.New(owner.DB())
	if err := wrapped.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := owner.Ping(ctx); err != nil {
		t.Fatalf("handle closed by non-owning store: %v", err)
	}
}
