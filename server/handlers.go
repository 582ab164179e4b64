package server

import (
	"database/sql"
	"os"

	"github.com/onnwee/streamcast/backend/chat"
	"github.com/onnwee/streamcast/backend/livecache"
	"github.com/onnwee/streamcast/backend/provider"
	"github.com/onnwee/streamcast/backend/stream"
)

// Handlers holds dependencies for all HTTP handlers. Every request is independent;
// nothing here assumes in-process memory of prior calls beyond the shared stores.
type Handlers struct {
	db            *sql.DB
	streams       *stream.Store
	messages      *chat.Store
	cache         *livecache.Cache // nil when Redis is not configured
	provider      *provider.Client // nil when provisioning is disabled
	webhookSecret string
}

// NewHandlers creates a new Handlers instance with the given dependencies.
// The provider client is built from env so tests can point it at a mock server.
func NewHandlers(db *sql.DB, cache *livecache.Cache) *Handlers {
	h := &Handlers{
		db:            db,
		streams:       stream.NewStore(db),
		messages:      chat.NewStore(db),
		cache:         cache,
		webhookSecret: os.Getenv("WEBHOOK_SECRET"),
	}
	if key := os.Getenv("PROVIDER_API_KEY"); key != "" {
		base := os.Getenv("PROVIDER_API_URL")
		if base == "" {
			base = "https://livepeer.studio/api"
		}
		h.provider = &provider.Client{BaseURL: base, APIKey: key}
	}
	return h
}
