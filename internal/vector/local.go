package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Sidecar artifact names inside LocalConfig.Dir.
const (
	SnapshotFile = "index.gob"
	IDsFile      = "ids.json"

	collectionName = "cortex"
)

// idOrder is the serialized id mapping: ids in insertion order.
type idOrder struct {
	Dimension int      `json:"dimension"`
	IDs       []string `json:"ids"`
}

// Local is an exact, exhaustive index. Scoring is delegated to an in-process
// chromem-go collection (cosine similarity, which equals the inner product of
// normalized vectors); ordering and tie-breaking are done here.
//
// Every mutation rewrites both sidecar artifacts before returning.
type Local struct {
	mu  sync.RWMutex
	dim int
	dir string

	db  *chromem.DB
	col *chromem.Collection

	seq   map[string]uint64 // id -> insertion sequence
	order []string          // ids by insertion sequence
	next  uint64
}

// NewLocal creates an empty local index. When dir is set, any artifacts
// already there are overwritten with the empty state.
func NewLocal(dir string, dim int) (*Local, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, dim)
	}

	db := chromem.NewDB()
	col, err := db.CreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector: create collection: %w", err)
	}

	l := &Local{
		dim: dim,
		dir: dir,
		db:  db,
		col: col,
		seq: make(map[string]uint64),
	}
	if err := l.persistLocked(); err != nil {
		return nil, err
	}
	return l, nil
}

// LoadLocal restores a local index from dir. A directory without artifacts
// yields an empty index. If only one artifact exists, or the two disagree on
// dimension, count or the set of ids, LoadLocal returns an error wrapping ErrCorruptedSnapshot
// and leaves the decision to reset to the caller.
func LoadLocal(dir string, dim int) (*Local, error) {
	if dir == "" {
		return NewLocal("", dim)
	}

	snapPath := filepath.Join(dir, SnapshotFile)
	idsPath := filepath.Join(dir, IDsFile)

	snapExists, err := fileExists(snapPath)
	if err != nil {
		return nil, err
	}
	idsExists, err := fileExists(idsPath)
	if err != nil {
		return nil, err
	}

	switch {
	case !snapExists && !idsExists:
		return NewLocal(dir, dim)
	case snapExists != idsExists:
		return nil, fmt.Errorf("%w: only one of %s and %s present in %s", ErrCorruptedSnapshot, SnapshotFile, IDsFile, dir)
	}

	raw, err := os.ReadFile(idsPath)
	if err != nil {
		return nil, fmt.Errorf("vector: read id mapping: %w", err)
	}
	var ids idOrder
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("%w: decode id mapping: %v", ErrCorruptedSnapshot, err)
	}
	if ids.Dimension != dim {
		return nil, fmt.Errorf("%w: id mapping has dimension %d, want %d", ErrCorruptedSnapshot, ids.Dimension, dim)
	}

	db := chromem.NewDB()
	if err := db.ImportFromFile(snapPath, ""); err != nil {
		return nil, fmt.Errorf("%w: import snapshot: %v", ErrCorruptedSnapshot, err)
	}
	col := db.GetCollection(collectionName, nil)
	if col == nil {
		return nil, fmt.Errorf("%w: snapshot has no %q collection", ErrCorruptedSnapshot, collectionName)
	}
	if col.Count() != len(ids.IDs) {
		return nil, fmt.Errorf("%w: snapshot holds %d vectors, id mapping lists %d", ErrCorruptedSnapshot, col.Count(), len(ids.IDs))
	}

	l := &Local{
		dim: dim,
		dir: dir,
		db:  db,
		col: col,
		seq: make(map[string]uint64, len(ids.IDs)),
	}
	for _, id := range ids.IDs {
		if _, dup := l.seq[id]; dup {
			return nil, fmt.Errorf("%w: id %q listed twice", ErrCorruptedSnapshot, id)
		}
		if _, err := col.GetByID(context.Background(), id); err != nil {
			return nil, fmt.Errorf("%w: id %q is not in the snapshot", ErrCorruptedSnapshot, id)
		}
		l.seq[id] = l.next
		l.order = append(l.order, id)
		l.next++
	}

	log.WithField("dir", dir).WithField("vectors", len(l.order)).Debug("local index loaded")
	return l, nil
}

// Add inserts or overwrites vectors. An overwritten id keeps its original
// insertion position.
func (l *Local) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if err := validateBatch(l.dim, ids, vectors); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var addErr error
	for i, id := range ids {
		doc := chromem.Document{
			ID:        id,
			Content:   id,
			Embedding: copyVector(vectors[i]),
		}
		if err := l.col.AddDocument(ctx, doc); err != nil {
			addErr = fmt.Errorf("vector: add %q: %w", id, err)
			break
		}
		if _, ok := l.seq[id]; !ok {
			l.seq[id] = l.next
			l.order = append(l.order, id)
			l.next++
		}
	}

	// Persist whatever was applied so disk matches memory even on failure.
	return errors.Join(addErr, l.persistLocked())
}

// Search scores every stored vector and returns the top k. Equal scores keep
// insertion order.
func (l *Local) Search(ctx context.Context, query []float32, k int) ([]Match, error) {
	if err := validateQuery(l.dim, query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Match{}, nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.col.Count()
	if n == 0 {
		return []Match{}, nil
	}

	results, err := l.col.QueryEmbedding(ctx, copyVector(query), n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector: query: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{ID: r.ID, Score: r.Similarity})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return l.seq[matches[i].ID] < l.seq[matches[j].ID]
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Delete removes id if present.
func (l *Local) Delete(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seq[id]; !ok {
		return nil
	}
	if err := l.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("vector: delete %q: %w", id, err)
	}

	delete(l.seq, id)
	for i, v := range l.order {
		if v == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return l.persistLocked()
}

// Stats reports the backend and vector count.
func (l *Local) Stats(ctx context.Context) (Stats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{
		Backend:      KindLocal,
		TotalVectors: l.col.Count(),
		Dimension:    l.dim,
		IndexName:    collectionName,
		Location:     l.dir,
	}, nil
}

// Dimension returns the fixed vector size of this index.
func (l *Local) Dimension() int { return l.dim }

// Close is a no-op; state is already on disk.
func (l *Local) Close() error { return nil }

func (l *Local) backend() Kind { return KindLocal }

// Contains reports whether id is indexed.
func (l *Local) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.seq[id]
	return ok
}

// persistLocked rewrites the snapshot, then the id mapping. Each file is
// replaced by rename, but the pair is not atomic: a crash between the two
// renames is what LoadLocal's count check detects.
func (l *Local) persistLocked() error {
	if l.dir == "" {
		return nil
	}
	if err := os.MkdirAll(l.dir, 0700); err != nil {
		return fmt.Errorf("vector: create index dir: %w", err)
	}

	snapPath := filepath.Join(l.dir, SnapshotFile)
	tmpSnap := filepath.Join(l.dir, "index.tmp.gob")
	if err := l.db.ExportToFile(tmpSnap, false, ""); err != nil {
		return fmt.Errorf("vector: write snapshot: %w", err)
	}
	if err := os.Rename(tmpSnap, snapPath); err != nil {
		return fmt.Errorf("vector: replace snapshot: %w", err)
	}

	raw, err := json.Marshal(idOrder{Dimension: l.dim, IDs: l.order})
	if err != nil {
		return fmt.Errorf("vector: encode id mapping: %w", err)
	}
	idsPath := filepath.Join(l.dir, IDsFile)
	tmpIDs := idsPath + ".tmp"
	if err := os.WriteFile(tmpIDs, raw, 0600); err != nil {
		return fmt.Errorf("vector: write id mapping: %w", err)
	}
	if err := os.Rename(tmpIDs, idsPath); err != nil {
		return fmt.Errorf("vector: replace id mapping: %w", err)
	}
	return nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("vector: stat %s: %w", path, err)
}
