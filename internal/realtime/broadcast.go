package realtime

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/lalith-99/echoroom/internal/models"
)

// Broadcast is one fan-out: an event, its payload, and the connection (if
// any) that must not receive it. Connection ids are uuids, unique across
// server instances, so Exclude keeps its meaning after crossing a relay.
type Broadcast struct {
	Node    string          `json:"node"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	Exclude string          `json:"exclude,omitempty"`
}

// MessageReader is the slice of the message store the core needs: the
// canonical hydrated record for a notification's message id.
type MessageReader interface {
	GetHydrated(ctx context.Context, messageID uuid.UUID) (*models.HydratedMessage, error)
}

// Relay forwards locally originated broadcasts to other server instances.
// Implementations must not block the caller for long; the hub calls
// Publish from its own goroutine per broadcast.
type Relay interface {
	Publish(ctx context.Context, b Broadcast) error
}
