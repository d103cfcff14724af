package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Event names on the push channel. editMessage and deleteMessage are used
// in both directions: as the client's notification and as the core's
// fan-out event.
const (
	EventConnect        = "connect"
	EventSendMessage    = "sendMessage"
	EventReceiveMessage = "receiveMessage"
	EventEditMessage    = "editMessage"
	EventDeleteMessage  = "deleteMessage"
)

// Envelope is one websocket text frame: an event name and its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data under the given event name.
func NewEnvelope(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: raw}, nil
}

// Encode renders the envelope as a frame.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// SenderKind tags which wire shape a sender field arrived in.
type SenderKind int

const (
	// SenderAbsent: field missing, null, or an object without an id.
	SenderAbsent SenderKind = iota
	// SenderBareID: "sender": "<id>".
	SenderBareID
	// SenderObject: "sender": {"_id": "<id>"} or {"id": "<id>"}.
	SenderObject
)

// SenderRef is the sender field of a change notification. Clients send
// either the bare user id or the hydrated sender object they got back from
// REST; both normalise to the same id.
type SenderRef struct {
	Kind SenderKind
	ID   string
}

func (s *SenderRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*s = SenderRef{}

	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		return nil
	case data[0] == '"':
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		if id = strings.TrimSpace(id); id != "" {
			*s = SenderRef{Kind: SenderBareID, ID: id}
		}
		return nil
	case data[0] == '{':
		var obj struct {
			UnderscoreID *string `json:"_id"`
			ID           *string `json:"id"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		// "_id" wins over "id" when both are present.
		for _, candidate := range []*string{obj.UnderscoreID, obj.ID} {
			if candidate != nil && strings.TrimSpace(*candidate) != "" {
				*s = SenderRef{Kind: SenderObject, ID: strings.TrimSpace(*candidate)}
				return nil
			}
		}
		return nil
	default:
		return fmt.Errorf("sender must be a string or object, got %s", data)
	}
}

// UserID normalises the reference to a user id. ok is false when the
// sender was absent or is not a valid id.
func (s SenderRef) UserID() (id uuid.UUID, ok bool) {
	if s.Kind == SenderAbsent {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s.ID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// messageNotification is the payload of sendMessage and editMessage.
// editMessage carries the full hydrated message; only _id and sender are
// read, the rest is ignored in favour of the store's copy.
type messageNotification struct {
	ID     string    `json:"_id"`
	Sender SenderRef `json:"sender"`
}

// deleteNotification is the payload of deleteMessage.
type deleteNotification struct {
	ID string `json:"_id"`
}

var errMissingID = errors.New("message _id is required")

func decodeMessageNotification(data json.RawMessage) (messageNotification, uuid.UUID, error) {
	var n messageNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return n, uuid.Nil, fmt.Errorf("decode notification: %w", err)
	}
	id, err := parseMessageID(n.ID)
	return n, id, err
}

func decodeDeleteNotification(data json.RawMessage) (uuid.UUID, error) {
	var n deleteNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return uuid.Nil, fmt.Errorf("decode notification: %w", err)
	}
	return parseMessageID(n.ID)
}

func parseMessageID(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, errMissingID
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("message _id %q: %w", raw, err)
	}
	return id, nil
}
