package chat_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/onnwee/streamcast/backend/chat"
	"github.com/onnwee/streamcast/backend/testutil"
)

func TestInsertAndListOrdering(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := chat.NewStore(db)
	ctx := context.Background()

	userID := testutil.SeedUser(t, db, testutil.UniqueWallet(t, "a"), t.Name()+"_user", "", "", true)
	sessID := testutil.OpenSession(t, db, userID)

	var ids []int64
	for i := 0; i < 5; i++ {
		m, err := store.Insert(ctx, sessID, userID, "viewer", fmt.Sprintf("msg-%d", i), chat.KindMessage)
		if err != nil {
			t.Fatalf("Insert(%d) error = %v", i, err)
		}
		if m.ID == 0 || m.CreatedAt.IsZero() {
			t.Fatalf("Insert(%d) returned incomplete message: %+v", i, m)
		}
		ids = append(ids, m.ID)
	}

	msgs, err := store.ListBefore(ctx, sessID, 10, 0)
	if err != nil {
		t.Fatalf("ListBefore() error = %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("ListBefore() returned %d messages, want 5", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].ID <= msgs[i-1].ID {
			t.Errorf("messages not ascending by id: %d then %d", msgs[i-1].ID, msgs[i].ID)
		}
	}
	if msgs[len(msgs)-1].Content != "msg-4" {
		t.Errorf("tail content = %q, want msg-4", msgs[len(msgs)-1].Content)
	}

	// Most-recent-K means highest K ids.
	msgs, err = store.ListBefore(ctx, sessID, 2, 0)
	if err != nil {
		t.Fatalf("ListBefore(limit=2) error = %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != ids[3] || msgs[1].ID != ids[4] {
		t.Errorf("limit=2 returned wrong window: %+v", msgs)
	}

	// Cursor restricts to ids strictly below.
	msgs, err = store.ListBefore(ctx, sessID, 10, ids[2])
	if err != nil {
		t.Fatalf("ListBefore(before) error = %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != ids[0] || msgs[1].ID != ids[1] {
		t.Errorf("cursor window wrong: %+v", msgs)
	}

	// Counter bumped once per insert.
	var total int
	if err := db.QueryRow(`SELECT total_messages FROM stream_sessions WHERE id=$1`, sessID).Scan(&total); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	if total != 5 {
		t.Errorf("total_messages = %d, want 5", total)
	}
}

func TestSoftDeleteAuthorization(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := chat.NewStore(db)
	ctx := context.Background()

	broadcaster := testutil.SeedUser(t, db, testutil.UniqueWallet(t, "b"), t.Name()+"_owner", "", "", true)
	author := testutil.SeedUser(t, db, testutil.UniqueWallet(t, "c"), t.Name()+"_author", "", "", false)
	bystander := testutil.SeedUser(t, db, testutil.UniqueWallet(t, "d"), t.Name()+"_bystander", "", "", false)
	sessID := testutil.OpenSession(t, db, broadcaster)

	m, err := store.Insert(ctx, sessID, author, "author", "delete me", chat.KindMessage)
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	// Neither author nor broadcaster: forbidden.
	if err := store.SoftDelete(ctx, m.ID, bystander); !errors.Is(err, chat.ErrForbidden) {
		t.Errorf("bystander delete error = %v, want ErrForbidden", err)
	}

	// Author may delete their own message.
	if err := store.SoftDelete(ctx, m.ID, author); err != nil {
		t.Fatalf("author delete error = %v", err)
	}

	// A second delete reports not-found even from the broadcaster.
	if err := store.SoftDelete(ctx, m.ID, broadcaster); !errors.Is(err, chat.ErrMessageNotFound) {
		t.Errorf("second delete error = %v, want ErrMessageNotFound", err)
	}

	// Deleted messages fall out of listings; the row itself survives with audit fields.
	msgs, err := store.ListBefore(ctx, sessID, 10, 0)
	if err != nil {
		t.Fatalf("ListBefore() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("deleted message still listed: %+v", msgs)
	}
	var isDeleted bool
	var moderatedBy int64
	if err := db.QueryRow(`SELECT is_deleted, moderated_by FROM chat_messages WHERE id=$1`, m.ID).Scan(&isDeleted, &moderatedBy); err != nil {
		t.Fatalf("read audit fields: %v", err)
	}
	if !isDeleted || moderatedBy != author {
		t.Errorf("audit fields = deleted %v by %d, want deleted by %d", isDeleted, moderatedBy, author)
	}
}

func TestSoftDeleteByBroadcaster(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := chat.NewStore(db)
	ctx := context.Background()

	broadcaster := testutil.SeedUser(t, db, testutil.UniqueWallet(t, "e"), t.Name()+"_owner", "", "", true)
	author := testutil.SeedUser(t, db, testutil.UniqueWallet(t, "f"), t.Name()+"_author", "", "", false)
	sessID := testutil.OpenSession(t, db, broadcaster)

	m, err := store.Insert(ctx, sessID, author, "author", "mod me", chat.KindMessage)
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := store.SoftDelete(ctx, m.ID, broadcaster); err != nil {
		t.Fatalf("broadcaster delete error = %v", err)
	}
}

func TestValidKind(t *testing.T) {
	for _, k := range []string{chat.KindMessage, chat.KindEmote, chat.KindSystem} {
		if !chat.ValidKind(k) {
			t.Errorf("ValidKind(%q) = false, want true", k)
		}
	}
	for _, k := range []string{"", "shout", "MESSAGE"} {
		if chat.ValidKind(k) {
			t.Errorf("ValidKind(%q) = true, want false", k)
		}
	}
}
