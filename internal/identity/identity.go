package identity

import (
	"context"
	"fmt"
	"time"
)

// EmbeddingDim is the length of every embedding produced by the extractor
// and accepted by the store.
const EmbeddingDim = 512

// Embedding is a face descriptor. It is produced once per image and never mutated.
type Embedding []float32

// Validate checks the fixed dimensionality.
func (e Embedding) Validate() error {
	if len(e) != EmbeddingDim {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(e), EmbeddingDim)
	}
	return nil
}

// Record is one enrolled identity.
type Record struct {
	FaceID    string    `json:"face_id"`
	Embedding Embedding `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Match is the nearest stored neighbour of a query embedding.
type Match struct {
	FaceID    string    `json:"face_id"`
	Score     float32   `json:"score"` // cosine similarity
	CreatedAt time.Time `json:"created_at"`
}

// Store is the nearest-neighbour index holding enrolled identities.
// Inserts are only guaranteed visible to queries after Flush returns.
// Backend failures are reported wrapped in ErrStoreUnavailable.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	Flush(ctx context.Context) error
	// QueryTop1 returns the closest record; ok is false when the store is empty.
	QueryTop1(ctx context.Context, emb Embedding) (m Match, ok bool, err error)
	DeleteByFaceID(ctx context.Context, faceID string) (int64, error)
	DeleteAll(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}

// Extractor turns raw image bytes into an embedding.
// It returns ErrNoFaceDetected when the image has no face and ErrInvalidImage
// when the bytes cannot be decoded.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (Embedding, error)
}

// SnapshotStore keeps the source image of each enrolled face.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, faceID string, data []byte) error
	GetSnapshot(ctx context.Context, faceID string) ([]byte, error)
	DeleteSnapshot(ctx context.Context, faceID string) error
	DeleteAllSnapshots(ctx context.Context) error
}

// EventType names an identity lifecycle event.
type EventType string

const (
	EventEnrolled   EventType = "enrolled"
	EventCheckedIn  EventType = "checked_in"
	EventUpdated    EventType = "updated"
	EventDeleted    EventType = "deleted"
	EventDeletedAll EventType = "deleted_all"
)

// Event is emitted after every successful mutation and every matched check-in.
type Event struct {
	Type           EventType `json:"type"`
	FaceID         string    `json:"face_id,omitempty"`
	PreviousFaceID string    `json:"previous_face_id,omitempty"`
	Similarity     float32   `json:"similarity,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// EventPublisher delivers lifecycle events to subscribers.
type EventPublisher interface {
	PublishIdentityEvent(ctx context.Context, ev Event) error
}
