package casestore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// TestMongoStore runs against a real server; set CASEGATE_TEST_MONGO_URI to enable.
func TestMongoStore(t *testing.T) {
	uri := os.Getenv("CASEGATE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CASEGATE_TEST_MONGO_URI not set")
	}

	runRepositoryContract(t, func(t *testing.T) Repository {
		cfg := DefaultStoreConfig()
		cfg.Type = StoreTypeMongo
		cfg.Mongo.URI = uri
		cfg.Mongo.Database = "casegate_test_" + uuid.New().String()[:8]

		store, err := NewMongoStore(context.Background(), cfg)
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = store.client.Database(cfg.Mongo.Database).Drop(context.Background())
			_ = store.Close()
		})
		return store
	})
}

// 不需要服务端: Connect 是惰性的，Close 之后 Ping 不再触达驱动
func TestMongoStore_PingAfterCloseWithoutServer(t *testing.T) {
	client, err := mongo.Connect(options.Client().
		ApplyURI("mongodb://127.0.0.1:1").
		SetServerSelectionTimeout(100 * time.Millisecond))
	require.NoError(t, err)

	for _, owns := range []bool{true, false} {
		store := &MongoStore{client: client, coll: client.Database("casegate").Collection("task_records"), owns: owns, now: time.Now}
		require.NoError(t, store.Close())
		assert.ErrorIs(t, store.Ping(context.Background()), ErrStoreClosed)
		assert.NoError(t, store.Close(), "second close is a no-op")
	}
}
