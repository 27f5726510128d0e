package asset_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/domain/asset"
	"github.com/pixora/pixora-api/internal/pkg/storage"
)

type memRepo struct {
	mu     sync.Mutex
	byGen  map[uuid.UUID]*asset.Asset
}

func newMemRepo() *memRepo {
	return &memRepo{byGen: map[uuid.UUID]*asset.Asset{}}
}

func (r *memRepo) Insert(ctx context.Context, a *asset.Asset) (*asset.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byGen[a.GenerationID]; ok {
		return existing, nil
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	stored := *a
	r.byGen[a.GenerationID] = &stored
	return &stored, nil
}

func (r *memRepo) GetByGenerationID(ctx context.Context, generationID uuid.UUID) (*asset.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.byGen[generationID]; ok {
		return a, nil
	}
	return nil, asset.ErrAssetNotFound
}

func (r *memRepo) MarkStored(ctx context.Context, id uuid.UUID, storageKey, publicURL string, sizeBytes int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.byGen {
		if a.ID == id {
			a.StorageKey = storageKey
			a.PublicURL = publicURL
			a.SizeBytes = sizeBytes
			a.StoreError = nil
			return nil
		}
	}
	return asset.ErrAssetNotFound
}


type memStore struct {
	mu      sync.Mutex
	puts    int
	objects map[string][]byte
	failPut bool
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (s *memStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.failPut {
		return errors.New("bucket unavailable")
	}
	s.objects[key] = data
	return nil
}

func (s *memStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (s *memStore) Delete(ctx context.Context, key string) error { return nil }

func (s *memStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memStore) GetURL(key string) string { return "https://cdn.test/" + key }

func (s *memStore) GetInfo(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	return nil, storage.ErrNotFound
}

func (s *memStore) PresignPut(ctx context.Context, key string, contentType string, expires time.Duration) (string, error) {
	return "", errors.New("not supported")
}

func newOutputServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestMaterializeIsIdempotent(t *testing.T) {
	repo := newMemRepo()
	store := newMemStore()
	svc := asset.NewService(repo, store)
	server := newOutputServer(t)

	ownerID := uuid.New()
	genID := uuid.New()

	first, err := svc.Materialize(context.Background(), ownerID, genID, server.URL+"/out.png")
	if err != nil {
		t.Fatalf("first materialize: %v", err)
	}

	second, err := svc.Materialize(context.Background(), ownerID, genID, server.URL+"/out.png")
	if err != nil {
		t.Fatalf("second materialize: %v", err)
	}

	if store.puts != 1 {
		t.Fatalf("expected exactly one storage write, got %d", store.puts)
	}
	if first.ID != second.ID {
		t.Fatalf("repeat materialize returned a different asset")
	}
	if first.StorageKey != "outputs/"+ownerID.String()+"/"+genID.String()+".png" {
		t.Fatalf("unexpected storage key %q", first.StorageKey)
	}
	if first.PublicURL != "https://cdn.test/"+first.StorageKey {
		t.Fatalf("unexpected public url %q", first.PublicURL)
	}
}

func TestMaterializeFetchFailureIsRetryable(t *testing.T) {
	repo := newMemRepo()
	store := newMemStore()
	svc := asset.NewService(repo, store)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	_, err := svc.Materialize(context.Background(), uuid.New(), uuid.New(), server.URL+"/out.png")
	if !errors.Is(err, asset.ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
	if len(repo.byGen) != 0 {
		t.Fatal("no asset row may exist after a failed fetch")
	}
}

func TestMaterializeStoreFailureKeepsProviderURL(t *testing.T) {
	repo := newMemRepo()
	store := newMemStore()
	store.failPut = true
	svc := asset.NewService(repo, store)
	server := newOutputServer(t)

	sourceURL := server.URL + "/out.png"
	a, err := svc.Materialize(context.Background(), uuid.New(), uuid.New(), sourceURL)
	if err != nil {
		t.Fatalf("store failure must not fail materialization: %v", err)
	}
	if a.StoreError == nil {
		t.Fatal("store failure must be recorded on the asset")
	}
	if a.PublicURL != sourceURL {
		t.Fatalf("expected provider URL fallback, got %q", a.PublicURL)
	}
}

func TestMaterializeRetriesAnnotatedRow(t *testing.T) {
	repo := newMemRepo()
	store := newMemStore()
	store.failPut = true
	svc := asset.NewService(repo, store)
	server := newOutputServer(t)

	ownerID := uuid.New()
	genID := uuid.New()
	sourceURL := server.URL + "/out.png"

	first, err := svc.Materialize(context.Background(), ownerID, genID, sourceURL)
	if err != nil {
		t.Fatalf("first materialize: %v", err)
	}
	if first.StoreError == nil {
		t.Fatal("expected store-error annotation")
	}

	store.mu.Lock()
	store.failPut = false
	store.mu.Unlock()

	second, err := svc.Materialize(context.Background(), ownerID, genID, sourceURL)
	if err != nil {
		t.Fatalf("retry materialize: %v", err)
	}
	if second.StoreError != nil {
		t.Fatal("annotation must be cleared after a successful retry")
	}
	if second.PublicURL != "https://cdn.test/"+second.StorageKey {
		t.Fatalf("expected owned URL after retry, got %q", second.PublicURL)
	}
	if second.ID != first.ID {
		t.Fatal("retry must update the existing row, not create a new one")
	}
}
