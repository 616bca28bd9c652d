package store

import (
	"testing"

	"github.com/dukerupert/replypilot/internal/database"
)

func setupReplyTestDB(t *testing.T) *ReplyStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewReplyStore(db)
}

func TestReplyCreate(t *testing.T) {
	rs := setupReplyTestDB(t)

	r, err := rs.Create("user_1", "Re: invoice", "original body", "drafted reply", "en", "formal")
	if err != nil {
		t.Fatalf("create reply: %v", err)
	}
	if r.UserID != "user_1" {
		t.Errorf("user_id = %q, want %q", r.UserID, "user_1")
	}
	if r.PublicID == "" {
		t.Error("expected a public id")
	}
	if r.Reply != "drafted reply" {
		t.Errorf("reply = %q, want %q", r.Reply, "drafted reply")
	}
}

func TestReplyListByUserNewestFirst(t *testing.T) {
	rs := setupReplyTestDB(t)

	rs.Create("user_1", "first", "", "a", "en", "neutral")
	rs.Create("user_1", "second", "", "b", "en", "neutral")
	rs.Create("user_2", "theirs", "", "c", "en", "neutral")

	replies, err := rs.ListByUser("user_1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(replies) != 2 {
		t.Fatalf("len = %d, want 2", len(replies))
	}
	if replies[0].Subject != "second" {
		t.Errorf("first item subject = %q, want newest", replies[0].Subject)
	}
}

func TestReplyDeleteOwnerScoped(t *testing.T) {
	rs := setupReplyTestDB(t)

	r, _ := rs.Create("user_1", "mine", "", "a", "en", "neutral")

	deleted, err := rs.Delete(r.ID, "user_2")
	if err != nil {
		t.Fatalf("delete as wrong owner: %v", err)
	}
	if deleted {
		t.Error("delete by non-owner should not match a row")
	}

	deleted, err = rs.Delete(r.ID, "user_1")
	if err != nil {
		t.Fatalf("delete as owner: %v", err)
	}
	if !deleted {
		t.Error("expected delete by owner to succeed")
	}

	got, _ := rs.GetByID(r.ID)
	if got != nil {
		t.Error("expected nil after delete")
	}
}

func TestReplyDeleteAllByUser(t *testing.T) {
	rs := setupReplyTestDB(t)

	rs.Create("user_1", "a", "", "", "en", "neutral")
	rs.Create("user_1", "b", "", "", "en", "neutral")
	rs.Create("user_2", "keep", "", "", "en", "neutral")

	n, err := rs.DeleteAllByUser("user_1")
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}

	remaining, _ := rs.ListByUser("user_2", 10)
	if len(remaining) != 1 {
		t.Errorf("other user's history affected: len = %d, want 1", len(remaining))
	}
}
