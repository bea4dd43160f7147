package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/your-org/faceid/internal/identity"
)

func TestSubject(t *testing.T) {
	tests := map[identity.EventType]string{
		identity.EventEnrolled:   "identities.enrolled",
		identity.EventCheckedIn:  "identities.checked_in",
		identity.EventDeletedAll: "identities.deleted_all",
	}
	for typ, want := range tests {
		if got := Subject(typ); got != want {
			t.Errorf("Subject(%q) = %q, want %q", typ, got, want)
		}
	}
}

func TestDecodeIdentityEvent(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	payload, err := json.Marshal(identity.Event{
		Type:           identity.EventUpdated,
		FaceID:         "new",
		PreviousFaceID: "old",
		Timestamp:      ts,
	})
	if err != nil {
		t.Fatal(err)
	}

	ev, err := DecodeIdentityEvent(payload)
	if err != nil {
		t.Fatalf("DecodeIdentityEvent: %v", err)
	}
	if ev.Type != identity.EventUpdated || ev.FaceID != "new" || ev.PreviousFaceID != "old" || !ev.Timestamp.Equal(ts) {
		t.Errorf("decoded = %+v", ev)
	}
}

func TestDecodeIdentityEvent_Invalid(t *testing.T) {
	for _, in := range []string{"not json", `{"face_id":"x"}`} {
		if _, err := DecodeIdentityEvent([]byte(in)); err == nil {
			t.Errorf("DecodeIdentityEvent(%q) should fail", in)
		}
	}
}
