package realtime

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSenderRefShapes(t *testing.T) {
	id := uuid.NewString()
	other := uuid.NewString()

	cases := []struct {
		name string
		raw  string
		kind SenderKind
		id   string
	}{
		{"bare id", `"` + id + `"`, SenderBareID, id},
		{"object with _id", `{"_id":"` + id + `","username":"alice"}`, SenderObject, id},
		{"object with id", `{"id":"` + id + `"}`, SenderObject, id},
		{"_id preferred over id", `{"_id":"` + id + `","id":"` + other + `"}`, SenderObject, id},
		{"empty _id falls back to id", `{"_id":"","id":"` + id + `"}`, SenderObject, id},
		{"null", `null`, SenderAbsent, ""},
		{"empty string", `""`, SenderAbsent, ""},
		{"object without id", `{"username":"alice"}`, SenderAbsent, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var ref SenderRef
			require.NoError(t, json.Unmarshal([]byte(tc.raw), &ref))
			assert.Equal(t, tc.kind, ref.Kind)
			assert.Equal(t, tc.id, ref.ID)
		})
	}
}

func TestSenderRefRejectsOtherTypes(t *testing.T) {
	var ref SenderRef
	assert.Error(t, json.Unmarshal([]byte(`42`), &ref))
	assert.Error(t, json.Unmarshal([]byte(`["a"]`), &ref))
}

func TestSenderRefMissingField(t *testing.T) {
	var n messageNotification
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"x"}`), &n))
	assert.Equal(t, SenderAbsent, n.Sender.Kind)

	_, ok := n.Sender.UserID()
	assert.False(t, ok)
}

func TestSenderRefUserID(t *testing.T) {
	id := uuid.New()

	got, ok := SenderRef{Kind: SenderObject, ID: id.String()}.UserID()
	assert.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = SenderRef{Kind: SenderBareID, ID: "u1"}.UserID()
	assert.False(t, ok, "non-uuid id never matches a user")
}

func TestDecodeNotifications(t *testing.T) {
	id := uuid.New()

	n, got, err := decodeMessageNotification(json.RawMessage(`{"_id":"` + id.String() + `","sender":"u1","content":"ignored"}`))
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Equal(t, "u1", n.Sender.ID)

	_, _, err = decodeMessageNotification(json.RawMessage(`{"sender":"u1"}`))
	assert.ErrorIs(t, err, errMissingID)

	got, err = decodeDeleteNotification(json.RawMessage(`{"_id":"` + id.String() + `"}`))
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = decodeDeleteNotification(json.RawMessage(`{"_id":"  "}`))
	assert.ErrorIs(t, err, errMissingID)

	_, err = decodeDeleteNotification(json.RawMessage(`"` + id.String() + `"`))
	assert.Error(t, err, "bare id is the fan-out shape, not the notification shape")
}

func TestEnvelopeEncode(t *testing.T) {
	env, err := NewEnvelope(EventDeleteMessage, "m1")
	require.NoError(t, err)

	frame, err := env.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"deleteMessage","data":"m1"}`, string(frame))
}
