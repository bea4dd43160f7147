package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/observability"
)

// DefaultThreshold is the cutoff config falls back to when none is set.
const DefaultThreshold = 0.75

// Options configures an Engine.
type Options struct {
	// Threshold is the single similarity cutoff shared by enroll dedup and
	// check-in. It is used as given, zero included.
	Threshold float64
	// SerializeMutations makes duplicate-check→insert (and update's
	// delete→insert) atomic within this process.
	SerializeMutations bool
	// VerifyUpdateIdentity requires the image passed to Update to match the
	// face_id being replaced.
	VerifyUpdateIdentity bool
	// StoreTimeout bounds every store mutation.
	StoreTimeout time.Duration

	Snapshots SnapshotStore
	Events    EventPublisher
}

// Engine is the identity matching engine: extract → query → decide → mutate.
type Engine struct {
	extractor    Extractor
	store        Store
	snapshots    SnapshotStore
	events       EventPublisher
	threshold    float32
	serialize    bool
	verifyUpdate bool
	storeTimeout time.Duration

	mu    sync.Mutex
	now   func() time.Time
	newID func() string
}

// CheckInResult is the outcome of CheckIn. Matched=false is the NoMatch outcome;
// Similarity then carries the best score seen, if any record existed.
type CheckInResult struct {
	Matched    bool
	FaceID     string
	Similarity float32
	Nearest    bool
}

func NewEngine(extractor Extractor, store Store, opts Options) *Engine {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	return &Engine{
		extractor:    extractor,
		store:        store,
		snapshots:    opts.Snapshots,
		events:       opts.Events,
		threshold:    float32(opts.Threshold),
		serialize:    opts.SerializeMutations,
		verifyUpdate: opts.VerifyUpdateIdentity,
		storeTimeout: opts.StoreTimeout,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// Threshold returns the configured similarity cutoff.
func (e *Engine) Threshold() float32 {
	return e.threshold
}

// Ready reports whether an extractor is attached.
func (e *Engine) Ready() bool {
	return e.extractor != nil
}

// Enroll registers a new identity unless an equal-or-more-similar one exists.
func (e *Engine) Enroll(ctx context.Context, image []byte) (faceID string, err error) {
	defer func() { e.record("enroll", err) }()

	emb, err := e.embed(ctx, image)
	if err != nil {
		return "", err
	}

	var rec Record
	err = e.serialized(func() error {
		m, ok, err := e.store.QueryTop1(ctx, emb)
		if err != nil {
			return err
		}
		if ok {
			observability.SimilarityScore.WithLabelValues("enroll").Observe(float64(m.Score))
			slog.Debug("enroll nearest neighbour", "face_id", m.FaceID, "similarity", m.Score)
			if m.Score >= e.threshold {
				return &DuplicateError{FaceID: m.FaceID, Score: m.Score}
			}
		}

		rec = Record{FaceID: e.newID(), Embedding: emb, CreatedAt: e.now().UTC()}
		return e.insert(ctx, rec)
	})
	if err != nil {
		return "", err
	}

	slog.Info("face enrolled", "face_id", rec.FaceID)
	e.putSnapshot(ctx, rec.FaceID, image)
	e.publish(ctx, Event{Type: EventEnrolled, FaceID: rec.FaceID, Timestamp: rec.CreatedAt})
	return rec.FaceID, nil
}

// CheckIn looks up the nearest identity. A score equal to the threshold matches.
func (e *Engine) CheckIn(ctx context.Context, image []byte) (res CheckInResult, err error) {
	defer func() {
		if err == nil && !res.Matched {
			observability.IdentityOperations.WithLabelValues("check_in", "no_match").Inc()
			return
		}
		e.record("check_in", err)
	}()

	emb, err := e.embed(ctx, image)
	if err != nil {
		return CheckInResult{}, err
	}

	m, ok, err := e.store.QueryTop1(ctx, emb)
	if err != nil {
		return CheckInResult{}, err
	}
	if !ok {
		return CheckInResult{}, nil
	}

	observability.SimilarityScore.WithLabelValues("check_in").Observe(float64(m.Score))
	slog.Debug("check-in nearest neighbour", "face_id", m.FaceID, "similarity", m.Score)

	if m.Score < e.threshold {
		return CheckInResult{Similarity: m.Score, Nearest: true}, nil
	}

	e.publish(ctx, Event{Type: EventCheckedIn, FaceID: m.FaceID, Similarity: m.Score, Timestamp: e.now().UTC()})
	return CheckInResult{Matched: true, FaceID: m.FaceID, Similarity: m.Score, Nearest: true}, nil
}

// Update replaces the record for faceID with the embedding of image under a
// freshly generated id. The old id is invalid afterwards.
func (e *Engine) Update(ctx context.Context, faceID string, image []byte) (newFaceID string, err error) {
	defer func() { e.record("update", err) }()

	if faceID == "" {
		return "", ErrNotFound
	}

	emb, err := e.embed(ctx, image)
	if err != nil {
		return "", err
	}

	var rec Record
	err = e.serialized(func() error {
		m, ok, err := e.store.QueryTop1(ctx, emb)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		if e.verifyUpdate && (m.FaceID != faceID || m.Score < e.threshold) {
			slog.Info("update rejected, nearest neighbour differs",
				"face_id", faceID, "nearest", m.FaceID, "similarity", m.Score)
			return ErrIdentityMismatch
		}

		mctx, cancel := e.mutationContext(ctx)
		defer cancel()

		n, err := e.store.DeleteByFaceID(mctx, faceID)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}

		rec = Record{FaceID: e.newID(), Embedding: emb, CreatedAt: e.now().UTC()}
		if err := e.insert(ctx, rec); err != nil {
			slog.Error("update removed old record but failed to insert replacement",
				"old_face_id", faceID, "error", err)
			if ferr := e.store.Flush(mctx); ferr != nil {
				slog.Error("flush after failed update", "old_face_id", faceID, "error", ferr)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	slog.Info("face updated", "old_face_id", faceID, "face_id", rec.FaceID)
	e.deleteSnapshot(ctx, faceID)
	e.putSnapshot(ctx, rec.FaceID, image)
	e.publish(ctx, Event{Type: EventUpdated, FaceID: rec.FaceID, PreviousFaceID: faceID, Timestamp: rec.CreatedAt})
	return rec.FaceID, nil
}

// Delete removes every record carrying faceID.
func (e *Engine) Delete(ctx context.Context, faceID string) (err error) {
	defer func() { e.record("delete", err) }()

	if faceID == "" {
		return ErrNotFound
	}

	err = e.serialized(func() error {
		mctx, cancel := e.mutationContext(ctx)
		defer cancel()

		n, err := e.store.DeleteByFaceID(mctx, faceID)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return e.store.Flush(mctx)
	})
	if err != nil {
		return err
	}

	slog.Info("face deleted", "face_id", faceID)
	e.deleteSnapshot(ctx, faceID)
	e.publish(ctx, Event{Type: EventDeleted, FaceID: faceID, Timestamp: e.now().UTC()})
	return nil
}

// DeleteAll empties the store. It succeeds on an already empty store.
func (e *Engine) DeleteAll(ctx context.Context) (err error) {
	defer func() { e.record("delete_all", err) }()

	err = e.serialized(func() error {
		mctx, cancel := e.mutationContext(ctx)
		defer cancel()

		if err := e.store.DeleteAll(mctx); err != nil {
			return err
		}
		return e.store.Flush(mctx)
	})
	if err != nil {
		return err
	}

	slog.Info("all faces deleted")
	if e.snapshots != nil {
		mctx, cancel := e.mutationContext(ctx)
		defer cancel()
		if err := e.snapshots.DeleteAllSnapshots(mctx); err != nil {
			observability.SideEffectFailures.WithLabelValues("snapshot").Inc()
			slog.Warn("delete all snapshots", "error", err)
		}
	}
	e.publish(ctx, Event{Type: EventDeletedAll, Timestamp: e.now().UTC()})
	return nil
}

// Snapshot returns the stored source image of faceID.
func (e *Engine) Snapshot(ctx context.Context, faceID string) ([]byte, error) {
	if e.snapshots == nil || faceID == "" {
		return nil, ErrNotFound
	}
	return e.snapshots.GetSnapshot(ctx, faceID)
}

func (e *Engine) embed(ctx context.Context, image []byte) (Embedding, error) {
	if e.extractor == nil {
		return nil, ErrExtractorUnavailable
	}
	if len(image) == 0 {
		return nil, ErrInvalidImage
	}
	emb, err := e.extractor.Extract(ctx, image)
	if err != nil {
		return nil, err
	}
	if err := emb.Validate(); err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return emb, nil
}

// insert writes rec and flushes it so that the next query observes it.
func (e *Engine) insert(ctx context.Context, rec Record) error {
	mctx, cancel := e.mutationContext(ctx)
	defer cancel()

	if err := e.store.Insert(mctx, rec); err != nil {
		return err
	}
	return e.store.Flush(mctx)
}

// mutationContext detaches a store mutation from client cancellation so that a
// disconnect never leaves a replace half done.
func (e *Engine) mutationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.storeTimeout)
}

func (e *Engine) serialized(fn func() error) error {
	if e.serialize {
		e.mu.Lock()
		defer e.mu.Unlock()
	}
	return fn()
}

func (e *Engine) putSnapshot(ctx context.Context, faceID string, image []byte) {
	if e.snapshots == nil {
		return
	}
	mctx, cancel := e.mutationContext(ctx)
	defer cancel()
	if err := e.snapshots.PutSnapshot(mctx, faceID, image); err != nil {
		observability.SideEffectFailures.WithLabelValues("snapshot").Inc()
		slog.Warn("store snapshot", "face_id", faceID, "error", err)
	}
}

func (e *Engine) deleteSnapshot(ctx context.Context, faceID string) {
	if e.snapshots == nil {
		return
	}
	mctx, cancel := e.mutationContext(ctx)
	defer cancel()
	if err := e.snapshots.DeleteSnapshot(mctx, faceID); err != nil {
		observability.SideEffectFailures.WithLabelValues("snapshot").Inc()
		slog.Warn("delete snapshot", "face_id", faceID, "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	if e.events == nil {
		return
	}
	mctx, cancel := e.mutationContext(ctx)
	defer cancel()
	if err := e.events.PublishIdentityEvent(mctx, ev); err != nil {
		observability.SideEffectFailures.WithLabelValues("event").Inc()
		slog.Warn("publish identity event", "type", ev.Type, "face_id", ev.FaceID, "error", err)
	}
}

func (e *Engine) record(op string, err error) {
	observability.IdentityOperations.WithLabelValues(op, Outcome(err)).Inc()
}

// Outcome maps an engine error to a short label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoFaceDetected):
		return "no_face"
	case errors.Is(err, ErrInvalidImage):
		return "invalid_image"
	case errors.Is(err, ErrDuplicateIdentity):
		return "duplicate"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrIdentityMismatch):
		return "mismatch"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrExtractorUnavailable):
		return "extractor_unavailable"
	default:
		return "error"
	}
}
