package memstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jensholdgaard/auctionsync/internal/store"
	"github.com/jensholdgaard/auctionsync/internal/store/memstore"
)

func TestReplicaRepo_UpsertLastWriterWins(t *testing.T) {
	repo := memstore.NewReplicaRepo()
	ctx := context.Background()

	tests := []struct {
		name      string
		rec       store.ReplicaRecord
		wantWrote bool
		wantColor string
	}{
		{"first write", store.ReplicaRecord{ID: "a", Color: "red", UpdatedAt: t0.Add(2 * time.Second)}, true, "red"},
		{"same stamp discarded", store.ReplicaRecord{ID: "a", Color: "blue", UpdatedAt: t0.Add(2 * time.Second)}, false, "red"},
		{"older discarded", store.ReplicaRecord{ID: "a", Color: "green", UpdatedAt: t0.Add(time.Second)}, false, "red"},
		{"newer wins", store.ReplicaRecord{ID: "a", Color: "black", UpdatedAt: t0.Add(3 * time.Second)}, true, "black"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrote, err := repo.Upsert(ctx, tt.rec)
			if err != nil {
				t.Fatalf("Upsert: %v", err)
			}
			if wrote != tt.wantWrote {
				t.Errorf("wrote = %v, want %v", wrote, tt.wantWrote)
			}
			got, _ := repo.Get(ctx, "a")
			if got.Color != tt.wantColor {
				t.Errorf("Color = %q, want %q", got.Color, tt.wantColor)
			}
		})
	}
}

func TestReplicaRepo_DeleteTombstonesStaleUpserts(t *testing.T) {
	repo := memstore.NewReplicaRepo()
	ctx := context.Background()

	_, _ = repo.Upsert(ctx, store.ReplicaRecord{ID: "a", UpdatedAt: t0})
	removed, err := repo.Delete(ctx, "a", t0.Add(time.Second))
	if err != nil || !removed {
		t.Fatalf("Delete = %v, %v; want true, nil", removed, err)
	}

	removed, err = repo.Delete(ctx, "a", t0.Add(time.Second))
	if err != nil || removed {
		t.Errorf("second Delete = %v, %v; want false, nil", removed, err)
	}

	wrote, _ := repo.Upsert(ctx, store.ReplicaRecord{ID: "a", UpdatedAt: t0.Add(500 * time.Millisecond)})
	if wrote {
		t.Error("stale upsert resurrected a deleted record")
	}
	if _, err := repo.Get(ctx, "a"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestReplicaRepo_WatermarkAndList(t *testing.T) {
	repo := memstore.NewReplicaRepo()
	ctx := context.Background()

	wm, _ := repo.Watermark(ctx)
	if !wm.IsZero() {
		t.Fatalf("empty Watermark = %v, want zero", wm)
	}

	for i, id := range []string{"a", "b", "c"} {
		_, _ = repo.Upsert(ctx, store.ReplicaRecord{ID: id, UpdatedAt: t0.Add(time.Duration(i) * time.Second)})
	}
	wm, _ = repo.Watermark(ctx)
	if !wm.Equal(t0.Add(2 * time.Second)) {
		t.Errorf("Watermark = %v, want %v", wm, t0.Add(2*time.Second))
	}

	page, _ := repo.List(ctx, 1, 5)
	if len(page) != 2 || page[0].ID != "b" || page[1].ID != "a" {
		t.Errorf("List(1, 5) = %+v, want [b a]", page)
	}
}
