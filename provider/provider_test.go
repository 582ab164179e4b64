package provider_test

import (
	"context"
	"testing"

	"github.com/onnwee/streamcast/backend/provider"
	"github.com/onnwee/streamcast/backend/testutil"
)

func TestCreateStream(t *testing.T) {
	mock := testutil.NewMockProviderServer(t)
	mock.MockCreateStream("strm_1", "play_abc", "key_secret")

	c := &provider.Client{BaseURL: mock.URL, APIKey: "test"}
	s, err := c.CreateStream(context.Background(), "alice")
	if err != nil {
		t.Fatalf("CreateStream() error = %v", err)
	}
	if s.ID != "strm_1" || s.PlaybackID != "play_abc" || s.StreamKey != "key_secret" {
		t.Errorf("CreateStream() = %+v", s)
	}
}

func TestCreateStreamEmptyName(t *testing.T) {
	c := &provider.Client{BaseURL: "http://unused", APIKey: "test"}
	if _, err := c.CreateStream(context.Background(), ""); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestGetAndTerminateStream(t *testing.T) {
	mock := testutil.NewMockProviderServer(t)
	mock.MockGetStream("strm_2", true)
	mock.MockTerminateStream("strm_2")

	c := &provider.Client{BaseURL: mock.URL, APIKey: "test"}
	s, err := c.GetStream(context.Background(), "strm_2")
	if err != nil {
		t.Fatalf("GetStream() error = %v", err)
	}
	if !s.IsActive {
		t.Error("GetStream().IsActive = false, want true")
	}
	if err := c.TerminateStream(context.Background(), "strm_2"); err != nil {
		t.Errorf("TerminateStream() error = %v", err)
	}
}

func TestGetStreamNotFound(t *testing.T) {
	mock := testutil.NewMockProviderServer(t)
	c := &provider.Client{BaseURL: mock.URL, APIKey: "test"}
	if _, err := c.GetStream(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown stream")
	}
}

func TestParseEvent(t *testing.T) {
	body := []byte(`{"id":"evt_1","event":"stream.started","timestamp":1700000000,"payload":{"streamId":"strm_1","viewers":12}}`)
	ev, err := provider.ParseEvent(body)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if ev.Type != "stream.started" || ev.Payload.StreamID != "strm_1" || ev.Payload.Viewers != 12 {
		t.Errorf("ParseEvent() = %+v", ev)
	}

	if _, err := provider.ParseEvent([]byte(`{"event":""}`)); err == nil {
		t.Error("expected error for missing fields")
	}
	if _, err := provider.ParseEvent([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid json")
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"stream.idle"}`)
	sig := provider.Sign("topsecret", body)

	if !provider.VerifySignature("topsecret", sig, body) {
		t.Error("valid signature rejected")
	}
	if provider.VerifySignature("topsecret", sig, []byte(`tampered`)) {
		t.Error("tampered body accepted")
	}
	if provider.VerifySignature("topsecret", "deadbeef", body) {
		t.Error("bogus signature accepted")
	}
	// Empty secret disables verification.
	if !provider.VerifySignature("", "anything", body) {
		t.Error("empty secret should disable verification")
	}
}
