package dto

import "time"

// WSEvent is a WebSocket message for real-time identity events.
type WSEvent struct {
	Type           string    `json:"type"` // enrolled, checked_in, updated, deleted, deleted_all
	FaceID         string    `json:"face_id,omitempty"`
	PreviousFaceID string    `json:"previous_face_id,omitempty"`
	Similarity     float32   `json:"similarity,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
