package identity

import (
	"context"
	"errors"
	"math"
	"sync"
)

// basis returns the unit vector along axis i.
func basis(i int) Embedding {
	v := make(Embedding, EmbeddingDim)
	v[i] = 1
	return v
}

// withSimilarity returns a unit vector whose cosine similarity to basis(0) is sim.
func withSimilarity(sim float64) Embedding {
	v := make(Embedding, EmbeddingDim)
	v[0] = float32(sim)
	v[1] = float32(math.Sqrt(1 - sim*sim))
	return v
}

type fakeExtractor struct {
	faces map[string]Embedding
	calls int
	mu    sync.Mutex
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{faces: make(map[string]Embedding)}
}

func (f *fakeExtractor) add(image string, emb Embedding) []byte {
	f.faces[image] = emb
	return []byte(image)
}

func (f *fakeExtractor) Extract(_ context.Context, image []byte) (Embedding, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	switch string(image) {
	case "no-face":
		return nil, ErrNoFaceDetected
	case "garbage":
		return nil, ErrInvalidImage
	}
	emb, ok := f.faces[string(image)]
	if !ok {
		return nil, ErrNoFaceDetected
	}
	return emb, nil
}

// memStore is a brute-force Store used to check engine semantics.
type memStore struct {
	mu      sync.Mutex
	records []Record
	inserts int
	deletes int
	flushes int
	fail    error
}

func (s *memStore) Insert(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.inserts++
	s.records = append(s.records, rec)
	return nil
}

func (s *memStore) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return s.fail
}

func (s *memStore) QueryTop1(_ context.Context, emb Embedding) (Match, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return Match{}, false, s.fail
	}
	var best Match
	found := false
	for _, r := range s.records {
		score := CosineSimilarity(emb, r.Embedding)
		if !found || score > best.Score {
			best = Match{FaceID: r.FaceID, Score: score, CreatedAt: r.CreatedAt}
			found = true
		}
	}
	return best, found, nil
}

func (s *memStore) DeleteByFaceID(_ context.Context, faceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, s.fail
	}
	var n int64
	kept := s.records[:0]
	for _, r := range s.records {
		if r.FaceID == faceID {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	s.deletes += int(n)
	return n, nil
}

func (s *memStore) DeleteAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.records = nil
	return nil
}

func (s *memStore) Ping(context.Context) error { return s.fail }
func (s *memStore) Close()                     {}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// fixedStore always answers QueryTop1 with a preset match.
type fixedStore struct {
	memStore
	match Match
}

func (s *fixedStore) QueryTop1(context.Context, Embedding) (Match, bool, error) {
	return s.match, true, nil
}

type fakeSnapshots struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    error
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{objects: make(map[string][]byte)}
}

func (f *fakeSnapshots) PutSnapshot(_ context.Context, faceID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.objects[faceID] = data
	return nil
}

func (f *fakeSnapshots) GetSnapshot(_ context.Context, faceID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[faceID]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (f *fakeSnapshots) DeleteSnapshot(_ context.Context, faceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, faceID)
	return nil
}

func (f *fakeSnapshots) DeleteAllSnapshots(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects = make(map[string][]byte)
	return nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []Event
}

func (f *fakeEvents) PublishIdentityEvent(_ context.Context, ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeEvents) types() []EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]EventType, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Type
	}
	return out
}

var errBackend = errors.New("connection refused")
