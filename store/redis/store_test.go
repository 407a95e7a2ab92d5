//go:build integration

package redis_test

import (
	"context"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	redismodule "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/xraph/approvals/id"
	"github.com/xraph/approvals/store"
	redisstore "github.com/xraph/approvals/store/redis"
	"github.com/xraph/approvals/store/storetest"
)

// setupClient starts a Redis container shared by every subtest.
func setupClient(t *testing.T) *goredis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := redismodule.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := testcontainers.TerminateContainer(container); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	opts, err := goredis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestConformance(t *testing.T) {
	client := setupClient(t)
	storetest.Run(t, func(*testing.T) store.Store {
		// A fresh prefix per subtest keeps the keyspaces disjoint.
		return redisstore.New(client, redisstore.WithKeyPrefix("test-"+id.NewRunID().String()+":"))
	})
}
