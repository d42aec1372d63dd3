package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"server/internal/domain"
)

type fakeBlobStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	removed []string
	failAll bool
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: map[string][]byte{}}
}

func (f *fakeBlobStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return "", errors.New("disk full")
	}
	f.blobs[key] = append([]byte(nil), data...)
	return key, nil
}

func (f *fakeBlobStore) Read(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[key]
	if !ok {
		return nil, errors.New("missing blob")
	}
	return data, nil
}

func (f *fakeBlobStore) Remove(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, key)
	f.removed = append(f.removed, key)
	return nil
}

func newTestManager(t *testing.T, capacity int) (*Manager, *fakeBlobStore) {
	t.Helper()
	store := newFakeBlobStore()
	m := NewManager(Options{
		DraftID:  "draft-1",
		Store:    store,
		BaseURL:  "http://localhost:8080/static",
		Capacity: capacity,
		Logger:   zerolog.Nop(),
	})
	t.Cleanup(m.Close)
	return m, store
}

func addAttachment(t *testing.T, m *Manager, name string) domain.MediaAttachment {
	t.Helper()
	item, err := m.Add(context.Background(), AddRequest{
		Filename: name + ".jpg",
		MIME:     "image/jpeg",
		Data:     []byte(name),
	})
	if err != nil {
		t.Fatalf("Add(%s) returned error: %v", name, err)
	}
	return item
}

func assertContiguousOrders(t *testing.T, items []domain.MediaAttachment) {
	t.Helper()
	for i, item := range items {
		if item.Order != i {
			t.Fatalf("items[%d].Order = %d, want %d (items: %+v)", i, item.Order, i, items)
		}
	}
}

func TestRemoveCompactsOrders(t *testing.T) {
	m, store := newTestManager(t, 10)
	a := addAttachment(t, m, "A")
	b := addAttachment(t, m, "B")
	c := addAttachment(t, m, "C")
	if a.Order != 0 || b.Order != 1 || c.Order != 2 {
		t.Fatalf("initial orders = %d,%d,%d, want 0,1,2", a.Order, b.Order, c.Order)
	}

	if err := m.Remove(context.Background(), b.ID); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}

	items := m.Snapshot(context.Background())
	if len(items) != 2 {
		t.Fatalf("Snapshot returned %d items, want 2", len(items))
	}
	if items[0].ID != a.ID || items[0].Order != 0 {
		t.Fatalf("first item = %s order %d, want A at 0", items[0].ID, items[0].Order)
	}
	if items[1].ID != c.ID || items[1].Order != 1 {
		t.Fatalf("second item = %s order %d, want C at 1", items[1].ID, items[1].Order)
	}

	store.mu.Lock()
	removed := len(store.removed)
	store.mu.Unlock()
	if removed != 1 {
		t.Fatalf("blob removals = %d, want 1", removed)
	}
}

func TestAddBeyondCapacityFailsLocally(t *testing.T) {
	m, store := newTestManager(t, 2)
	addAttachment(t, m, "A")
	addAttachment(t, m, "B")

	_, err := m.Add(context.Background(), AddRequest{Filename: "c.jpg", MIME: "image/jpeg", Data: []byte("C")})
	if !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Fatalf("Add error = %v, want ErrCapacityExceeded", err)
	}

	store.mu.Lock()
	blobCount := len(store.blobs)
	store.mu.Unlock()
	if blobCount != 2 {
		t.Fatalf("rejected add must not upload, have %d blobs", blobCount)
	}
}

func TestReorderMovesAndReindexes(t *testing.T) {
	m, _ := newTestManager(t, 10)
	a := addAttachment(t, m, "A")
	b := addAttachment(t, m, "B")
	c := addAttachment(t, m, "C")

	items, err := m.Reorder(context.Background(), c.ID, 0)
	if err != nil {
		t.Fatalf("Reorder returned error: %v", err)
	}
	wantIDs := []string{c.ID, a.ID, b.ID}
	for i, id := range wantIDs {
		if items[i].ID != id {
			t.Fatalf("items[%d].ID = %s, want %s", i, items[i].ID, id)
		}
	}
	assertContiguousOrders(t, items)

	// Out-of-range targets clamp to the end of the list.
	items, err = m.Reorder(context.Background(), c.ID, 99)
	if err != nil {
		t.Fatalf("Reorder returned error: %v", err)
	}
	if items[len(items)-1].ID != c.ID {
		t.Fatalf("clamped reorder should place C last, got %s", items[len(items)-1].ID)
	}
	assertContiguousOrders(t, items)
}

func TestRemoveUnknownAttachment(t *testing.T) {
	m, _ := newTestManager(t, 10)
	addAttachment(t, m, "A")
	if err := m.Remove(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Remove error = %v, want ErrNotFound", err)
	}
}

func TestConcurrentMutationsKeepOrdersContiguous(t *testing.T) {
	m, _ := newTestManager(t, 100)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				item, err := m.Add(context.Background(), AddRequest{
					Filename: fmt.Sprintf("g%d-%d.jpg", n, j),
					MIME:     "image/jpeg",
					Data:     []byte{byte(n), byte(j)},
				})
				if err != nil {
					t.Errorf("Add failed: %v", err)
					return
				}
				if j%2 == 0 {
					if _, err := m.Reorder(context.Background(), item.ID, 0); err != nil {
						t.Errorf("Reorder failed: %v", err)
						return
					}
				}
			}
		}(i)
	}
	wg.Wait()

	items := m.Snapshot(context.Background())
	if len(items) != 40 {
		t.Fatalf("Snapshot returned %d items, want 40", len(items))
	}
	assertContiguousOrders(t, items)
}

func TestCloseRejectsFurtherMutations(t *testing.T) {
	store := newFakeBlobStore()
	m := NewManager(Options{DraftID: "draft-2", Store: store, Logger: zerolog.Nop()})
	addAttachment(t, m, "A")
	m.Close()

	if _, err := m.Add(context.Background(), AddRequest{Filename: "b.jpg", MIME: "image/jpeg", Data: []byte("B")}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Add after Close = %v, want ErrClosed", err)
	}
	if err := m.Remove(context.Background(), "any"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Remove after Close = %v, want ErrClosed", err)
	}
}

func TestInitialItemsAreReindexed(t *testing.T) {
	store := newFakeBlobStore()
	m := NewManager(Options{
		DraftID: "draft-3",
		Store:   store,
		Logger:  zerolog.Nop(),
		Initial: []domain.MediaAttachment{
			{ID: "x", Order: 7},
			{ID: "y", Order: 3},
		},
	})
	defer m.Close()

	items := m.Snapshot(context.Background())
	if len(items) != 2 {
		t.Fatalf("Snapshot returned %d items, want 2", len(items))
	}
	assertContiguousOrders(t, items)
}
