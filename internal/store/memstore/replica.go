package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jensholdgaard/auctionsync/internal/store"
)

// ReplicaRepo implements store.ReplicaRepository in memory.
type ReplicaRepo struct {
	mu         sync.RWMutex
	records    map[string]store.ReplicaRecord
	tombstones map[string]time.Time
}

// NewReplicaRepo returns an empty ReplicaRepo.
func NewReplicaRepo() *ReplicaRepo {
	return &ReplicaRepo{
		records:    make(map[string]store.ReplicaRecord),
		tombstones: make(map[string]time.Time),
	}
}

func (r *ReplicaRepo) Get(_ context.Context, id string) (*store.ReplicaRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("getting replica record %s: %w", id, store.ErrNotFound)
	}
	return &rec, nil
}

func (r *ReplicaRepo) List(_ context.Context, offset, limit int) ([]store.ReplicaRecord, error) {
	r.mu.RLock()
	out := make([]store.ReplicaRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if offset >= len(out) {
		return []store.ReplicaRecord{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ReplicaRepo) Upsert(_ context.Context, rec store.ReplicaRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ts, ok := r.tombstones[rec.ID]; ok && !rec.UpdatedAt.After(ts) {
		return false, nil
	}
	if cur, ok := r.records[rec.ID]; ok && !rec.UpdatedAt.After(cur.UpdatedAt) {
		return false, nil
	}
	r.records[rec.ID] = rec
	return true, nil
}

func (r *ReplicaRepo) Delete(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ts, ok := r.tombstones[id]; !ok || at.After(ts) {
		r.tombstones[id] = at
	}
	if _, ok := r.records[id]; !ok {
		return false, nil
	}
	delete(r.records, id)
	return true, nil
}

func (r *ReplicaRepo) Watermark(_ context.Context) (time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var max time.Time
	for _, rec := range r.records {
		if rec.UpdatedAt.After(max) {
			max = rec.UpdatedAt
		}
	}
	return max, nil
}
