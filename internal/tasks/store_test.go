package tasks

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func strptr(s string) *string { return &s }

func TestCreateAndGet(t *testing.T) {
	store := testStore(t)

	task, err := store.Create("alice", "Buy groceries", strptr("milk, eggs"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if task.Completed {
		t.Error("new task should be pending")
	}

	got, err := store.Get("alice", task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "Buy groceries" {
		t.Errorf("unexpected title: %q", got.Title)
	}
	if got.Description == nil || *got.Description != "milk, eggs" {
		t.Errorf("unexpected description: %v", got.Description)
	}
}

func TestGetScopedToOwner(t *testing.T) {
	store := testStore(t)

	task, err := store.Create("alice", "Secret task", nil)
	if err != nil {
		t.Fatal(err)
	}

	// Another user cannot see it, even with the right id.
	if _, err := store.Get("bob", task.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for other user, got %v", err)
	}
}

func TestListFilters(t *testing.T) {
	store := testStore(t)

	t1, _ := store.Create("alice", "first", nil)
	time.Sleep(2 * time.Millisecond)
	store.Create("alice", "second", nil)
	time.Sleep(2 * time.Millisecond)
	store.Create("alice", "third", nil)
	store.Create("bob", "other user", nil)

	if _, err := store.Complete("alice", t1.ID); err != nil {
		t.Fatal(err)
	}

	all, err := store.List("alice", StatusAll)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(all))
	}
	// Newest first.
	if all[0].Title != "third" {
		t.Errorf("expected newest first, got %q", all[0].Title)
	}

	pending, err := store.List("alice", StatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Errorf("expected 2 pending, got %d", len(pending))
	}

	completed, err := store.List("alice", StatusCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if len(completed) != 1 {
		t.Fatalf("expected 1 completed, got %d", len(completed))
	}
	if completed[0].ID != t1.ID {
		t.Errorf("expected task %d, got %d", t1.ID, completed[0].ID)
	}
}

func TestListUnknownFilterReturnsAll(t *testing.T) {
	store := testStore(t)
	store.Create("alice", "a", nil)
	store.Create("alice", "b", nil)

	got, err := store.List("alice", "bogus")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 tasks for unknown filter, got %d", len(got))
	}
}

func TestListEmpty(t *testing.T) {
	store := testStore(t)

	got, err := store.List("alice", StatusAll)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected no tasks, got %d", len(got))
	}
}

func TestCompleteIdempotent(t *testing.T) {
	store := testStore(t)

	task, _ := store.Create("alice", "do it", nil)

	done, err := store.Complete("alice", task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !done.Completed {
		t.Error("expected completed")
	}

	// Second complete succeeds and stays completed.
	again, err := store.Complete("alice", task.ID)
	if err != nil {
		t.Fatalf("second Complete: %v", err)
	}
	if !again.Completed {
		t.Error("expected still completed")
	}
}

func TestCompleteNotFound(t *testing.T) {
	store := testStore(t)
	if _, err := store.Complete("alice", 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	store := testStore(t)

	task, _ := store.Create("alice", "ephemeral", nil)

	deleted, err := store.Delete("alice", task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if deleted.Title != "ephemeral" {
		t.Errorf("expected deleted task returned, got %q", deleted.Title)
	}

	if _, err := store.Get("alice", task.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting again reports not found.
	if _, err := store.Delete("alice", task.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestDeleteScopedToOwner(t *testing.T) {
	store := testStore(t)

	task, _ := store.Create("alice", "mine", nil)
	if _, err := store.Delete("bob", task.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for other user, got %v", err)
	}

	// Still there for the owner.
	if _, err := store.Get("alice", task.ID); err != nil {
		t.Errorf("task should survive cross-user delete: %v", err)
	}
}

func TestUpdatePartial(t *testing.T) {
	store := testStore(t)

	task, _ := store.Create("alice", "old title", strptr("old desc"))

	// Title only.
	got, err := store.Update("alice", task.ID, strptr("new title"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "new title" {
		t.Errorf("unexpected title: %q", got.Title)
	}
	if got.Description == nil || *got.Description != "old desc" {
		t.Errorf("description should be unchanged, got %v", got.Description)
	}

	// Description only.
	got, err = store.Update("alice", task.ID, nil, strptr("new desc"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "new title" {
		t.Errorf("title should be unchanged, got %q", got.Title)
	}
	if got.Description == nil || *got.Description != "new desc" {
		t.Errorf("unexpected description: %v", got.Description)
	}
}

func TestUpdateNotFound(t *testing.T) {
	store := testStore(t)
	if _, err := store.Update("alice", 42, strptr("x"), nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIDsIncrement(t *testing.T) {
	store := testStore(t)

	a, _ := store.Create("alice", "a", nil)
	b, _ := store.Create("alice", "b", nil)
	if b.ID <= a.ID {
		t.Errorf("expected increasing ids, got %d then %d", a.ID, b.ID)
	}
}
