package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/onnwee/streamcast/backend/testutil"
)

func TestStreamStartStop(t *testing.T) {
	db := testutil.SetupTestDB(t)
	handler := NewMux(context.Background(), db, nil)

	wallet := testutil.UniqueWallet(t, "b")
	ref := "pb-" + t.Name()
	testutil.SeedUser(t, db, wallet, "caster-"+t.Name(), ref, "", false)

	start := func() int {
		return postJSON(t, handler, http.MethodPost, "/stream/start", map[string]string{"wallet": wallet}).Code
	}
	stop := func() int {
		return postJSON(t, handler, http.MethodDelete, "/stream/start", map[string]string{"wallet": wallet}).Code
	}

	if code := start(); code != http.StatusCreated {
		t.Fatalf("start status = %d, want 201", code)
	}
	if code := start(); code != http.StatusConflict {
		t.Errorf("double start status = %d, want 409", code)
	}
	if code := stop(); code != http.StatusOK {
		t.Errorf("stop status = %d, want 200", code)
	}
	if code := stop(); code != http.StatusConflict {
		t.Errorf("double stop status = %d, want 409", code)
	}
	// Fresh session each cycle.
	if code := start(); code != http.StatusCreated {
		t.Errorf("restart status = %d, want 201", code)
	}

	var open int
	if err := db.QueryRow(`
		SELECT COUNT(*) FROM stream_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE u.wallet=$1 AND s.ended_at IS NULL`, wallet).Scan(&open); err != nil {
		t.Fatalf("count open sessions: %v", err)
	}
	if open != 1 {
		t.Errorf("open sessions = %d, want 1", open)
	}
}

func TestStreamStartErrors(t *testing.T) {
	db := testutil.SetupTestDB(t)
	handler := NewMux(context.Background(), db, nil)

	// Unknown wallet.
	w := postJSON(t, handler, http.MethodPost, "/stream/start", map[string]string{"wallet": "0xghost"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown wallet status = %d, want 404", w.Code)
	}

	// Registered but never provisioned.
	wallet := testutil.UniqueWallet(t, "np")
	testutil.SeedUser(t, db, wallet, "noprov-"+t.Name(), "", "", false)
	w = postJSON(t, handler, http.MethodPost, "/stream/start", map[string]string{"wallet": wallet})
	if w.Code != http.StatusNotFound {
		t.Errorf("unprovisioned status = %d, want 404 (body %s)", w.Code, w.Body.String())
	}

	// Missing wallet.
	w = postJSON(t, handler, http.MethodPost, "/stream/start", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing wallet status = %d, want 400", w.Code)
	}
}

func TestStreamProvision(t *testing.T) {
	db := testutil.SetupTestDB(t)

	mock := testutil.NewMockProviderServer(t)
	mock.MockCreateStream("str-123", "pb-prov-"+t.Name(), "sk-secret")
	t.Setenv("PROVIDER_API_KEY", "test-key")
	t.Setenv("PROVIDER_API_URL", mock.URL)

	handler := NewMux(context.Background(), db, nil)

	wallet := testutil.UniqueWallet(t, "p")
	uid := testutil.SeedUser(t, db, wallet, "prov-"+t.Name(), "", "", false)

	w := postJSON(t, handler, http.MethodPost, "/stream/provision", map[string]string{"wallet": wallet})
	if w.Code != http.StatusCreated {
		t.Fatalf("provision status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		PlaybackRef string `json:"playbackRef"`
		StreamKey   string `json:"streamKey"`
	}
	decodeJSON(t, w, &resp)
	if resp.PlaybackRef != "pb-prov-"+t.Name() || resp.StreamKey != "sk-secret" {
		t.Errorf("provision response = %+v", resp)
	}

	var ref, streamID string
	if err := db.QueryRow(`SELECT playback_ref, provider_stream_id FROM users WHERE id=$1`, uid).
		Scan(&ref, &streamID); err != nil {
		t.Fatalf("read provisioning: %v", err)
	}
	if ref != resp.PlaybackRef || streamID != "str-123" {
		t.Errorf("stored provisioning = (%s, %s)", ref, streamID)
	}
}

func TestStreamKeyRoundTrip(t *testing.T) {
	db := testutil.SetupTestDB(t)

	mock := testutil.NewMockProviderServer(t)
	mock.MockCreateStream("str-key", "pb-key-"+t.Name(), "sk-roundtrip")
	t.Setenv("PROVIDER_API_KEY", "test-key")
	t.Setenv("PROVIDER_API_URL", mock.URL)
	t.Setenv("STREAM_KEY_ENC_KEY", base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{9}, 32)))

	handler := NewMux(context.Background(), db, nil)

	wallet := testutil.UniqueWallet(t, "k")
	testutil.SeedUser(t, db, wallet, "keyuser-"+t.Name(), "", "", false)

	w := postJSON(t, handler, http.MethodPost, "/stream/provision", map[string]string{"wallet": wallet})
	if w.Code != http.StatusCreated {
		t.Fatalf("provision status = %d, body %s", w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/stream/key?wallet="+url.QueryEscape(wallet), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("key status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		StreamKey string `json:"streamKey"`
	}
	decodeJSON(t, rec, &resp)
	if resp.StreamKey != "sk-roundtrip" {
		t.Errorf("streamKey = %q, want sk-roundtrip", resp.StreamKey)
	}

	// Unknown wallet reads as 404.
	req = httptest.NewRequest(http.MethodGet, "/stream/key?wallet=0xghost", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown wallet key status = %d, want 404", rec.Code)
	}
}

func TestStreamProvisionUnconfigured(t *testing.T) {
	db := testutil.SetupTestDB(t)
	t.Setenv("PROVIDER_API_KEY", "")
	handler := NewMux(context.Background(), db, nil)

	w := postJSON(t, handler, http.MethodPost, "/stream/provision", map[string]string{"wallet": "0xwhoever"})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}
