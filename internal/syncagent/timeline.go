package syncagent

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echoroom/internal/models"
	"github.com/samber/lo"
)

// Pending is an optimistic message the user sent that the server has not
// confirmed yet.
type Pending struct {
	TempID    string
	Sender    models.UserSummary
	Content   string
	CreatedAt time.Time
}

// Timeline is a client's local view of the room: confirmed messages
// ordered by createdAt then id, plus a table of optimistic entries keyed
// by temporary id. All merges are idempotent.
type Timeline struct {
	mu       sync.Mutex
	messages []models.HydratedMessage
	pending  map[string]Pending
	now      func() time.Time
}

func NewTimeline() *Timeline {
	return &Timeline{
		pending: make(map[string]Pending),
		now:     time.Now,
	}
}

func less(a, b models.HydratedMessage) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// Reset replaces the confirmed view with a full fetch. Pending entries
// survive; their REST calls are still in flight.
func (t *Timeline) Reset(msgs []models.HydratedMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages = lo.UniqBy(slices.Clone(msgs), func(m models.HydratedMessage) uuid.UUID { return m.ID })
	sort.SliceStable(t.messages, func(i, j int) bool { return less(t.messages[i], t.messages[j]) })
}

// AddPending records an optimistic message and returns it.
func (t *Timeline) AddPending(tempID string, sender models.UserSummary, content string) Pending {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := Pending{TempID: tempID, Sender: sender, Content: content, CreatedAt: t.now()}
	t.pending[tempID] = p
	return p
}

// Resolve replaces the placeholder with the server-confirmed message. If
// the push channel already delivered msg, the placeholder is just dropped.
func (t *Timeline) Resolve(tempID string, msg models.HydratedMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.pending, tempID)
	t.upsert(msg)
}

// Discard drops a placeholder whose REST call failed.
func (t *Timeline) Discard(tempID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.pending[tempID]
	delete(t.pending, tempID)
	return ok
}

// ApplyCreated merges a receiveMessage event: upsert by id.
func (t *Timeline) ApplyCreated(msg models.HydratedMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.upsert(msg)
}

// ApplyEdited replaces a known message in place. Position is kept because
// ordering is by the original createdAt. Unknown ids are ignored.
func (t *Timeline) ApplyEdited(msg models.HydratedMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, i, ok := lo.FindIndexOf(t.messages, func(m models.HydratedMessage) bool { return m.ID == msg.ID })
	if !ok {
		return false
	}
	t.messages[i] = msg
	return true
}

// ApplyDeleted removes id. Deleting an absent id is a no-op.
func (t *Timeline) ApplyDeleted(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	before := len(t.messages)
	t.messages = lo.Reject(t.messages, func(m models.HydratedMessage, _ int) bool { return m.ID == id })
	return len(t.messages) != before
}

// Snapshot returns a copy of the confirmed messages in display order.
func (t *Timeline) Snapshot() []models.HydratedMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.messages)
}

// Pending returns the unconfirmed entries, oldest first.
func (t *Timeline) Pending() []Pending {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := lo.Values(t.pending)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].TempID < out[j].TempID
	})
	return out
}

func (t *Timeline) upsert(msg models.HydratedMessage) {
	if _, i, ok := lo.FindIndexOf(t.messages, func(m models.HydratedMessage) bool { return m.ID == msg.ID }); ok {
		t.messages[i] = msg
		return
	}
	i := sort.Search(len(t.messages), func(i int) bool { return less(msg, t.messages[i]) })
	t.messages = slices.Insert(t.messages, i, msg)
}
