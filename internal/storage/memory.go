package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/identity"
	"github.com/your-org/faceid/internal/observability"
)

const (
	// hnswMaxNeighbors is M, the maximum number of neighbours per node.
	hnswMaxNeighbors = 16
	// hnswCandidates is how many approximate neighbours are rescored exactly.
	hnswCandidates = 16
	// The graph is rebuilt once deleted-but-still-linked nodes exceed a
	// 1/staleCompactRatio share of the live records.
	staleCompactRatio = 4
)

// MemoryStore is an in-process HNSW index for single-node deployments and
// tests. When path is set, Flush writes the graph and a JSON sidecar of
// creation times, and NewMemoryStore loads them back. The sidecar is the
// source of truth for which faces exist.
//
// Deleted faces stay linked in the graph until enough of them pile up to
// rebuild it. hnsw.Graph.Delete leaves emptied upper layers behind and the
// next Search dereferences their nil entry point, so it is never called.
type MemoryStore struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[string]
	records map[string]identity.Record
	stale   map[string]struct{}
	path    string

	flushMu sync.Mutex
}

var _ identity.Store = (*MemoryStore)(nil)

type memoryMeta struct {
	CreatedAt map[string]time.Time `json:"created_at"`
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.Distance = hnsw.CosineDistance
	return g
}

// NewMemoryStore returns an empty store, or the one persisted at path.
func NewMemoryStore(path string) (*MemoryStore, error) {
	s := &MemoryStore{
		graph:   newGraph(),
		records: make(map[string]identity.Record),
		stale:   make(map[string]struct{}),
		path:    path,
	}
	if path == "" {
		return s, nil
	}

	if err := s.load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("no persisted index, starting empty", "path", path)
			return s, nil
		}
		return nil, fmt.Errorf("load index %s: %w", path, err)
	}
	slog.Info("loaded persisted index", "path", path, "identities", len(s.records))
	s.updateGauge()
	return s, nil
}

func (s *MemoryStore) load() error {
	meta, err := os.ReadFile(s.path + ".meta.json")
	if err != nil {
		return err
	}
	var m memoryMeta
	if err := json.Unmarshal(meta, &m); err != nil {
		return fmt.Errorf("parse sidecar: %w", err)
	}

	g := newGraph()
	if len(m.CreatedAt) > 0 {
		f, err := os.Open(s.path)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := importGraph(g, bufio.NewReader(f)); err != nil {
			return fmt.Errorf("import graph: %w", err)
		}
	}

	records := make(map[string]identity.Record, len(m.CreatedAt))
	for faceID, created := range m.CreatedAt {
		vec, ok := g.Lookup(faceID)
		if !ok {
			slog.Warn("face listed in sidecar is missing from graph, dropping", "face_id", faceID)
			continue
		}
		records[faceID] = identity.Record{FaceID: faceID, Embedding: identity.Embedding(vec), CreatedAt: created}
	}

	// A crash between the two renames in Flush leaves the graph one write
	// ahead of the sidecar.
	if g.Len() != len(records) {
		slog.Warn("graph and sidecar disagree, rebuilding graph",
			"graph_nodes", g.Len(), "identities", len(records))
		g = buildGraph(records)
	}

	s.graph = g
	s.records = records
	s.stale = make(map[string]struct{})
	return nil
}

// importGraph reads an exported graph. hnsw panics on some malformed input.
func importGraph(g *hnsw.Graph[string], r io.Reader) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("malformed graph: %v", p)
		}
	}()
	return g.Import(r)
}

func buildGraph(records map[string]identity.Record) *hnsw.Graph[string] {
	g := newGraph()
	for id, rec := range records {
		g.Add(hnsw.MakeNode(id, []float32(rec.Embedding)))
	}
	return g
}

func (s *MemoryStore) updateGauge() {
	observability.StoredIdentities.WithLabelValues(config.BackendMemory).Set(float64(len(s.records)))
}

func (s *MemoryStore) Insert(_ context.Context, rec identity.Record) error {
	if err := rec.Embedding.Validate(); err != nil {
		return err
	}
	emb := make(identity.Embedding, len(rec.Embedding))
	copy(emb, rec.Embedding)
	rec.Embedding = emb

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.FaceID]; exists {
		return fmt.Errorf("face_id %s already stored", rec.FaceID)
	}
	if _, ok := s.stale[rec.FaceID]; ok {
		s.compact()
	}
	s.graph.Add(hnsw.MakeNode(rec.FaceID, []float32(emb)))
	s.records[rec.FaceID] = rec
	s.updateGauge()
	return nil
}

// Flush persists the index when a path is configured. Both files are
// written to unique temporaries and renamed into place, graph first.
// Concurrent calls are serialised.
func (s *MemoryStore) Flush(context.Context) error {
	if s.path == "" {
		return nil
	}
	defer observeMemory("flush", time.Now())

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	graph, meta, err := s.snapshot()
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return identity.Unavailable("create index directory", err)
	}
	if err := writeFileAtomic(s.path, graph); err != nil {
		return identity.Unavailable("write index file", err)
	}
	if err := writeFileAtomic(s.path+".meta.json", meta); err != nil {
		return identity.Unavailable("write sidecar", err)
	}
	return nil
}

// snapshot encodes the graph and sidecar under one read lock so the pair
// is consistent.
func (s *MemoryStore) snapshot() ([]byte, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta := memoryMeta{CreatedAt: make(map[string]time.Time, len(s.records))}
	for id, rec := range s.records {
		meta.CreatedAt[id] = rec.CreatedAt
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal sidecar: %w", err)
	}

	var buf bytes.Buffer
	if len(s.records) > 0 {
		if err := s.graph.Export(&buf); err != nil {
			return nil, nil, fmt.Errorf("export graph: %w", err)
		}
	}
	return buf.Bytes(), data, nil
}

func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		_ = os.Remove(tmp)
	}
	return err
}

// QueryTop1 asks the graph for a handful of candidates and rescores them
// exactly, so the returned score is the true cosine similarity.
func (s *MemoryStore) QueryTop1(_ context.Context, emb identity.Embedding) (identity.Match, bool, error) {
	if err := emb.Validate(); err != nil {
		return identity.Match{}, false, err
	}
	defer observeMemory("query", time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return identity.Match{}, false, nil
	}

	var best identity.Match
	found := false
	k := min(hnswCandidates+len(s.stale), s.graph.Len())
	for _, n := range s.graph.Search([]float32(emb), k) {
		rec, ok := s.records[n.Key]
		if !ok {
			continue
		}
		score := identity.CosineSimilarity(emb, rec.Embedding)
		if !found || score > best.Score {
			best = identity.Match{FaceID: rec.FaceID, Score: score, CreatedAt: rec.CreatedAt}
			found = true
		}
	}
	return best, found, nil
}

// DeleteByFaceID removes the record. Its graph node is skipped by queries
// until the next compaction.
func (s *MemoryStore) DeleteByFaceID(_ context.Context, faceID string) (int64, error) {
	defer observeMemory("delete", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[faceID]; !ok {
		return 0, nil
	}
	delete(s.records, faceID)
	s.stale[faceID] = struct{}{}
	if len(s.records) == 0 || len(s.stale)*staleCompactRatio > len(s.records) {
		s.compact()
	}
	s.updateGauge()
	return 1, nil
}

// compact rebuilds the graph from live records. mu must be held for writing.
func (s *MemoryStore) compact() {
	s.graph = buildGraph(s.records)
	s.stale = make(map[string]struct{})
}

func (s *MemoryStore) DeleteAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.graph = newGraph()
	s.records = make(map[string]identity.Record)
	s.stale = make(map[string]struct{})
	s.updateGauge()
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) Close() {}

// Count returns the number of stored identities.
func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func observeMemory(op string, start time.Time) {
	observability.StoreDuration.WithLabelValues(config.BackendMemory, op).Observe(time.Since(start).Seconds())
}
