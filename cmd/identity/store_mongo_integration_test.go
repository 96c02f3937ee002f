package identity

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Opt-in: requires GATEKEEPER_TEST_MONGO_URI. Each subtest gets its own database.

func TestMongoStore_Contract(t *testing.T) {
	t.Parallel()

	client := mustMongoClient(t)

	runStoreContract(t, func(t *testing.T) Store {
		name := "gk_it_" + strings.ToLower(mustULID(t))
		db := client.Database(name)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		st, err := NewMongoStore(ctx, db)
		require.NoError(t, err)
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = db.Drop(ctx)
		})
		return st
	})
}

func TestOpenMongoStore_Validation(t *testing.T) {
	t.Parallel()

	_, err := OpenMongoStore(context.Background(), " ", "gatekeeper")
	assert.Error(t, err)

	_, err = NewMongoStore(context.Background(), nil)
	assert.Error(t, err)
}

func mustMongoClient(t *testing.T) *mongo.Client {
	t.Helper()

	uri := strings.TrimSpace(os.Getenv("GATEKEEPER_TEST_MONGO_URI"))
	if uri == "" {
		t.Skip("integration test skipped: GATEKEEPER_TEST_MONGO_URI is not set")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetServerSelectionTimeout(3 * time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: MongoDB unreachable: %v", err)
		}
		t.Fatalf("mongo ping: %v", err)
	}

	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	return client
}
