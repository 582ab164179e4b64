package stream_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/onnwee/streamcast/backend/stream"
	"github.com/onnwee/streamcast/backend/testutil"
)

func TestGoLiveGoOffline(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := stream.NewStore(db)
	ctx := context.Background()

	userID := testutil.SeedUser(t, db, testutil.UniqueWallet(t, "a"), t.Name()+"_user", t.Name()+"-ref", "", false)

	sess, err := store.GoLive(ctx, userID)
	if err != nil {
		t.Fatalf("GoLive() error = %v", err)
	}
	if sess.ID == 0 || sess.StartedAt.IsZero() {
		t.Errorf("GoLive() returned incomplete session: %+v", sess)
	}

	// A second go-live while open must conflict.
	if _, err := store.GoLive(ctx, userID); !errors.Is(err, stream.ErrAlreadyLive) {
		t.Errorf("second GoLive() error = %v, want ErrAlreadyLive", err)
	}

	id, err := store.ResolveOpenSession(ctx, userID)
	if err != nil {
		t.Fatalf("ResolveOpenSession() error = %v", err)
	}
	if id != sess.ID {
		t.Errorf("ResolveOpenSession() = %d, want %d", id, sess.ID)
	}

	if err := store.GoOffline(ctx, userID); err != nil {
		t.Fatalf("GoOffline() error = %v", err)
	}
	if err := store.GoOffline(ctx, userID); !errors.Is(err, stream.ErrNotLive) {
		t.Errorf("second GoOffline() error = %v, want ErrNotLive", err)
	}
	if _, err := store.ResolveOpenSession(ctx, userID); !errors.Is(err, stream.ErrNoActiveSession) {
		t.Errorf("ResolveOpenSession() after offline error = %v, want ErrNoActiveSession", err)
	}

	// Going live again opens a fresh session.
	sess2, err := store.GoLive(ctx, userID)
	if err != nil {
		t.Fatalf("GoLive() after offline error = %v", err)
	}
	if sess2.ID == sess.ID {
		t.Errorf("expected a new session id, got %d twice", sess.ID)
	}
}

func TestLookups(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := stream.NewStore(db)
	ctx := context.Background()

	wallet := testutil.UniqueWallet(t, "b")
	ref := t.Name() + "-playback"
	userID := testutil.SeedUser(t, db, wallet, t.Name()+"_user", ref, "", true)

	b, err := store.BroadcasterByPlaybackRef(ctx, ref)
	if err != nil {
		t.Fatalf("BroadcasterByPlaybackRef() error = %v", err)
	}
	if b.UserID != userID || !b.IsLive {
		t.Errorf("broadcaster = %+v, want user %d live", b, userID)
	}
	if _, err := store.BroadcasterByPlaybackRef(ctx, "missing-"+ref); !errors.Is(err, stream.ErrUserNotFound) {
		t.Errorf("missing ref error = %v, want ErrUserNotFound", err)
	}

	u, err := store.UserByWallet(ctx, wallet)
	if err != nil {
		t.Fatalf("UserByWallet() error = %v", err)
	}
	if u.ID != userID {
		t.Errorf("UserByWallet().ID = %d, want %d", u.ID, userID)
	}
	if _, err := store.UserByWallet(ctx, "0xnobody"); !errors.Is(err, stream.ErrUserNotFound) {
		t.Errorf("missing wallet error = %v, want ErrUserNotFound", err)
	}
}

func TestRecordTelemetry(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := stream.NewStore(db)
	ctx := context.Background()

	userID := testutil.SeedUser(t, db, testutil.UniqueWallet(t, "c"), t.Name()+"_user", "", "", true)
	sessID := testutil.OpenSession(t, db, userID)

	if err := store.RecordTelemetry(ctx, userID, 42, 3500, "1080p"); err != nil {
		t.Fatalf("RecordTelemetry() error = %v", err)
	}
	// Lower viewer count must not regress the peak.
	if err := store.RecordTelemetry(ctx, userID, 7, 0, ""); err != nil {
		t.Fatalf("RecordTelemetry() second call error = %v", err)
	}

	sess, err := store.SessionByID(ctx, sessID)
	if err != nil {
		t.Fatalf("SessionByID() error = %v", err)
	}
	if sess.PeakViewers != 42 {
		t.Errorf("PeakViewers = %d, want 42", sess.PeakViewers)
	}
}

func TestStreamKeyEncryptedAtRest(t *testing.T) {
	db := testutil.SetupTestDB(t)
	t.Setenv("STREAM_KEY_ENC_KEY", base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32)))
	store := stream.NewStore(db)
	ctx := context.Background()

	wallet := testutil.UniqueWallet(t, "d")
	userID := testutil.SeedUser(t, db, wallet, t.Name()+"_user", "", "", false)

	if err := store.SaveProvisioning(ctx, userID, t.Name()+"-ref", t.Name()+"-stream", "sk-plaintext"); err != nil {
		t.Fatalf("SaveProvisioning() error = %v", err)
	}

	// The stored cell must not contain the plaintext key.
	var stored string
	if err := db.QueryRow(`SELECT stream_key FROM users WHERE id=$1`, userID).Scan(&stored); err != nil {
		t.Fatalf("read stored key: %v", err)
	}
	if stored == "sk-plaintext" {
		t.Fatal("stream key stored in plaintext despite STREAM_KEY_ENC_KEY")
	}

	key, err := store.StreamKeyByWallet(ctx, wallet)
	if err != nil {
		t.Fatalf("StreamKeyByWallet() error = %v", err)
	}
	if key != "sk-plaintext" {
		t.Errorf("StreamKeyByWallet() = %q, want sk-plaintext", key)
	}

	// A store built without the key cannot decrypt; that surfaces as an error,
	// never as ciphertext handed to the caller.
	t.Setenv("STREAM_KEY_ENC_KEY", "")
	plainStore := stream.NewStore(db)
	if got, err := plainStore.StreamKeyByWallet(ctx, wallet); err == nil && got == "sk-plaintext" {
		t.Error("decryption succeeded without the key configured")
	}
}
