package identity

import (
	"errors"
	"fmt"
)

var (
	ErrNoFaceDetected       = errors.New("no face detected")
	ErrInvalidImage         = errors.New("invalid image")
	ErrDuplicateIdentity    = errors.New("face already exists")
	ErrNotFound             = errors.New("face_id not found")
	ErrIdentityMismatch     = errors.New("face_id does not match the supplied face")
	ErrStoreUnavailable     = errors.New("identity store unavailable")
	ErrExtractorUnavailable = errors.New("face recognition model not loaded")
)

// DuplicateError rejects an enrollment whose nearest neighbour is at or above
// the similarity threshold.
type DuplicateError struct {
	FaceID string
	Score  float32
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("face already exists as %s (similarity %.4f)", e.FaceID, e.Score)
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicateIdentity
}

// Unavailable wraps a backend error so that it matches ErrStoreUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
