package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lunchfinder/discovery/internal/domain"
)

// testMongoURI defaults to localhost:27017. Set MONGO_TEST_URI to override.
func testMongoURI() string {
	if uri := os.Getenv("MONGO_TEST_URI"); uri != "" {
		return uri
	}
	return "mongodb://localhost:27017"
}

// setupTestClient connects to MongoDB with a unique database name and skips
// the test when MongoDB is unreachable.
func setupTestClient(t *testing.T) (*mongo.Client, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	uri := testMongoURI()
	client, err := Connect(ctx, uri, options.Client().SetConnectTimeout(3*time.Second))
	if err != nil {
		t.Skipf("MongoDB not available at %s: %v", uri, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		t.Skipf("MongoDB ping failed at %s: %v", uri, err)
	}

	dbName := fmt.Sprintf("lunch_test_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = client.Database(dbName).Drop(ctx2)
		_ = client.Disconnect(ctx2)
	})
	return client, dbName
}

func TestIntegrationFavoritesUpsert(t *testing.T) {
	client, dbName := setupTestClient(t)
	repo := NewFavoritesRepository(client, dbName)
	ctx := context.Background()

	ids, err := repo.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll empty: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no favorites, got %v", ids)
	}

	if err := repo.Persist(ctx, []string{"b", "a"}); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := repo.Persist(ctx, []string{"c", "a"}); err != nil {
		t.Fatalf("Persist overwrite: %v", err)
	}
	ids, err = repo.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"a", "c"}) {
		t.Fatalf("expected [a c], got %v", ids)
	}
}

func TestIntegrationSavedSearchCRUD(t *testing.T) {
	client, dbName := setupTestClient(t)
	repo := NewSavedSearchRepository(client, dbName)
	ctx := context.Background()
	if err := repo.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes: %v", err)
	}

	base := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	older := domain.SavedSearch{ID: "s-1", Name: "older", Kind: domain.SearchKindNearby, CreatedAt: base, UpdatedAt: base}
	newer := domain.SavedSearch{ID: "s-2", Name: "newer", Kind: domain.SearchKindText, Query: "tacos", CreatedAt: base.Add(time.Hour), UpdatedAt: base.Add(time.Hour)}

	if err := repo.Create(ctx, older); err != nil {
		t.Fatalf("Create older: %v", err)
	}
	if err := repo.Create(ctx, newer); err != nil {
		t.Fatalf("Create newer: %v", err)
	}
	if err := repo.Create(ctx, older); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != "s-2" {
		t.Fatalf("expected newest first, got %+v", list)
	}

	older.Name = "renamed"
	if err := repo.Update(ctx, older); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := repo.Get(ctx, "s-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "renamed" {
		t.Fatalf("expected renamed, got %q", got.Name)
	}

	if err := repo.Delete(ctx, "s-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, "s-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.Update(ctx, older); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}
