package userstore_test

import (
	"errors"
	"testing"

	userstore "github.com/dalemusser/askaway/internal/app/store/users"
	"github.com/dalemusser/askaway/internal/app/system/storeerr"
	"github.com/dalemusser/askaway/internal/testutil"
)

func TestGetOrCreateOrRename_Creates(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := userstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	u, err := store.GetOrCreateOrRename(ctx, "aad-1", "Ada Lovelace")
	if err != nil {
		t.Fatalf("GetOrCreateOrRename failed: %v", err)
	}
	if u.ID != "aad-1" || u.UserName != "Ada Lovelace" {
		t.Errorf("got %+v", u)
	}
}

func TestGetOrCreateOrRename_Renames(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := userstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := store.GetOrCreateOrRename(ctx, "aad-2", "Old Name"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	u, err := store.GetOrCreateOrRename(ctx, "aad-2", "New Name")
	if err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	if u.UserName != "New Name" {
		t.Errorf("UserName: got %q, want %q", u.UserName, "New Name")
	}

	n, err := db.Collection("users").CountDocuments(ctx, map[string]any{"_id": "aad-2"})
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected a single user document, got %d", n)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := userstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := store.GetByID(ctx, "nobody"); !errors.Is(err, storeerr.ErrNotFound) {
		t.Fatalf("GetByID: got %v, want ErrNotFound", err)
	}
}

func TestGetByIDs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := userstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	for id, name := range map[string]string{"a": "Alice", "b": "Bob"} {
		if _, err := store.GetOrCreateOrRename(ctx, id, name); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	got, err := store.GetByIDs(ctx, []string{"a", "b", "missing"})
	if err != nil {
		t.Fatalf("GetByIDs failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 users, got %d", len(got))
	}
	if got["b"].UserName != "Bob" {
		t.Errorf("b: got %q", got["b"].UserName)
	}
}
