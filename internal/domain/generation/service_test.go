package generation_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/domain/asset"
	"github.com/pixora/pixora-api/internal/domain/credit"
	"github.com/pixora/pixora-api/internal/domain/generation"
	"github.com/pixora/pixora-api/internal/domain/model"
	"github.com/pixora/pixora-api/internal/pkg/kie"
)

/* =========================
   Fakes
   ========================= */

type fakeRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*generation.Generation
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: map[uuid.UUID]*generation.Generation{}}
}

func (r *fakeRepo) Create(ctx context.Context, g *generation.Generation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.Status == "" {
		g.Status = generation.StatusQueued
	}
	now := time.Now()
	g.CreatedAt = now
	g.UpdatedAt = now
	clone := *g
	r.rows[g.ID] = &clone
	return nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*generation.Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.rows[id]
	if !ok {
		return nil, generation.ErrGenerationNotFound
	}
	clone := *g
	return &clone, nil
}

func (r *fakeRepo) GetByIDForOwner(ctx context.Context, id, ownerID uuid.UUID) (*generation.Generation, error) {
	g, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.OwnerID != ownerID {
		return nil, generation.ErrGenerationNotFound
	}
	return g, nil
}

func (r *fakeRepo) GetByProviderTaskID(ctx context.Context, taskID string) (*generation.Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.rows {
		if g.ProviderTaskID != nil && *g.ProviderTaskID == taskID {
			clone := *g
			return &clone, nil
		}
	}
	return nil, generation.ErrGenerationNotFound
}

func (r *fakeRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]generation.Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []generation.Generation{}
	for _, g := range r.rows {
		if g.OwnerID == ownerID {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (r *fakeRepo) SetProviderTask(ctx context.Context, id uuid.UUID, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.rows[id]; ok && g.ProviderTaskID == nil {
		g.ProviderTaskID = &taskID
	}
	return nil
}

func (r *fakeRepo) UpdateProgress(ctx context.Context, id uuid.UUID, providerStatus string, progress float64, raw json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.rows[id]; ok && !g.Status.Terminal() {
		g.ProviderStatus = providerStatus
		if progress > g.Progress {
			g.Progress = progress
		}
	}
	return nil
}

func (r *fakeRepo) RecordWebhook(ctx context.Context, id uuid.UUID, raw json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.rows[id]; ok {
		g.WebhookRaw = raw
	}
	return nil
}

func (r *fakeRepo) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.rows[id]; ok && g.Status == generation.StatusQueued {
		g.Status = generation.StatusProcessing
	}
	return nil
}

func (r *fakeRepo) MarkSucceeded(ctx context.Context, id uuid.UUID, actual credit.Amount) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.rows[id]
	if !ok || g.Status.Terminal() {
		return false, nil
	}
	g.Status = generation.StatusSucceeded
	g.ActualCost = &actual
	g.Progress = 100
	return true, nil
}

func (r *fakeRepo) MarkFailed(ctx context.Context, id uuid.UUID, message string, retryable bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.rows[id]
	if !ok || g.Status.Terminal() {
		return false, nil
	}
	g.Status = generation.StatusFailed
	g.ErrorMessage = &message
	g.Retryable = retryable
	return true, nil
}

func (r *fakeRepo) MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.rows[id]
	if !ok || g.Status.Terminal() {
		return false, nil
	}
	g.Status = generation.StatusCancelled
	return true, nil
}

func (r *fakeRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]generation.Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []generation.Generation{}
	for _, g := range r.rows {
		if !g.Status.Terminal() && g.UpdatedAt.Before(cutoff) {
			out = append(out, *g)
		}
	}
	return out, nil
}

// fakeLedger replicates the real ledger's idempotency and the
// finalize/refund exclusivity.
type fakeLedger struct {
	mu          sync.Mutex
	reserved    map[uuid.UUID]credit.Amount
	settlements map[uuid.UUID]credit.EntryKind
	reserves    int
	finalizes   int
	refunds     int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		reserved:    map[uuid.UUID]credit.Amount{},
		settlements: map[uuid.UUID]credit.EntryKind{},
	}
}

func (l *fakeLedger) Reserve(ctx context.Context, ownerID, generationID uuid.UUID, amount credit.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.reserved[generationID]; ok {
		return nil
	}
	l.reserved[generationID] = amount
	l.reserves++
	return nil
}

func (l *fakeLedger) Finalize(ctx context.Context, generationID uuid.UUID, actual credit.Amount) error {
	return l.settle(generationID, credit.KindFinalize)
}

func (l *fakeLedger) Refund(ctx context.Context, generationID uuid.UUID) error {
	return l.settle(generationID, credit.KindRefund)
}

func (l *fakeLedger) settle(generationID uuid.UUID, kind credit.EntryKind) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.reserved[generationID]; !ok {
		return credit.ErrNoReservation
	}
	if existing, ok := l.settlements[generationID]; ok {
		if existing == kind {
			return nil
		}
		return credit.ErrAlreadySettled
	}
	l.settlements[generationID] = kind
	if kind == credit.KindFinalize {
		l.finalizes++
	} else {
		l.refunds++
	}
	return nil
}

type fakeProvider struct {
	mu          sync.Mutex
	createErr   error
	createCalls int
	statusCalls int
	status      kie.TaskStatus
	outputURL   string
	statusErr   error
}

func (p *fakeProvider) CreateTask(ctx context.Context, providerModel string, payload map[string]interface{}, createPath string) (*kie.CreateResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createCalls++
	if p.createErr != nil {
		return nil, p.createErr
	}
	return &kie.CreateResult{TaskID: "task-1", Status: kie.StatusQueued}, nil
}

func (p *fakeProvider) GetTaskStatus(ctx context.Context, taskID string, statusPath string) (*kie.StatusResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusCalls++
	if p.statusErr != nil {
		return nil, p.statusErr
	}
	return &kie.StatusResult{Status: p.status, OutputURL: p.outputURL}, nil
}

// fakeMaterializer mimics the real service: idempotent per generation, one
// underlying store.
type fakeMaterializer struct {
	mu     sync.Mutex
	assets map[uuid.UUID]*asset.Asset
	stores int
	err    error
}

func newFakeMaterializer() *fakeMaterializer {
	return &fakeMaterializer{assets: map[uuid.UUID]*asset.Asset{}}
}

func (m *fakeMaterializer) Materialize(ctx context.Context, ownerID, generationID uuid.UUID, sourceURL string) (*asset.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.assets[generationID]; ok {
		return a, nil
	}
	if m.err != nil {
		return nil, m.err
	}
	m.stores++
	a := &asset.Asset{
		ID:           uuid.New(),
		GenerationID: generationID,
		OwnerID:      ownerID,
		SourceURL:    sourceURL,
		PublicURL:    "https://cdn.test/outputs/" + generationID.String() + ".png",
	}
	m.assets[generationID] = a
	return a, nil
}

type fakeCatalog struct {
	m      *model.Model
	preset *model.Preset
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		m: &model.Model{
			ID:              uuid.New(),
			Key:             "seedream-v4-text-to-image",
			ProviderModel:   "seedream-v4-text-to-image",
			Family:          "market",
			Modality:        model.ModalityImage,
			PriceMultiplier: 1.0,
			Active:          true,
		},
		preset: &model.Preset{
			ID:       uuid.New(),
			Key:      "quick-image",
			Name:     "Quick Image",
			ModelKey: "seedream-v4-text-to-image",
			BaseCost: credit.Credits(4),
			Active:   true,
		},
	}
}

func (c *fakeCatalog) GetByKey(ctx context.Context, key string) (*model.Model, error) {
	if key != c.m.Key {
		return nil, model.ErrModelNotFound
	}
	return c.m, nil
}

func (c *fakeCatalog) GetPresetByKey(ctx context.Context, key string) (*model.Preset, error) {
	if key != c.preset.Key {
		return nil, model.ErrPresetNotFound
	}
	return c.preset, nil
}

type fixture struct {
	repo         *fakeRepo
	ledger       *fakeLedger
	provider     *fakeProvider
	materializer *fakeMaterializer
	catalog      *fakeCatalog
	svc          *generation.Service
}

func newFixture() *fixture {
	f := &fixture{
		repo:         newFakeRepo(),
		ledger:       newFakeLedger(),
		provider:     &fakeProvider{status: kie.StatusProcessing},
		materializer: newFakeMaterializer(),
		catalog:      newFakeCatalog(),
	}
	f.svc = generation.NewService(f.repo, f.ledger, f.provider, f.materializer, f.catalog, nil, generation.Config{
		MarkupPercent: 0,
		StaleAfter:    2 * time.Minute,
	})
	return f
}

func createGeneration(t *testing.T, f *fixture) *generation.Generation {
	t.Helper()
	g, err := f.svc.Create(context.Background(), uuid.New(), generation.CreateRequest{
		PresetKey: "quick-image",
		Prompt:    "a cat wearing a hat",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return g
}

/* =========================
   Tests
   ========================= */

func TestCreateReservesAndSubmits(t *testing.T) {
	f := newFixture()
	g := createGeneration(t, f)

	if g.Status != generation.StatusQueued {
		t.Errorf("status = %q, want queued", g.Status)
	}
	if g.ReservedCost != credit.Credits(4) {
		t.Errorf("reserved = %d, want 400", g.ReservedCost)
	}
	if g.ProviderTaskID == nil || *g.ProviderTaskID != "task-1" {
		t.Errorf("provider task not attached: %v", g.ProviderTaskID)
	}
	if f.ledger.reserves != 1 {
		t.Errorf("reserves = %d, want 1", f.ledger.reserves)
	}
	if f.provider.createCalls != 1 {
		t.Errorf("create calls = %d, want 1", f.provider.createCalls)
	}
}

func TestCreateInsufficientCreditsSkipsProvider(t *testing.T) {
	f := newFixture()
	// Empty ledger account: make Reserve fail.
	failing := &failingLedger{err: credit.ErrInsufficientCredits}
	f.svc = generation.NewService(f.repo, failing, f.provider, f.materializer, f.catalog, nil, generation.Config{})

	_, err := f.svc.Create(context.Background(), uuid.New(), generation.CreateRequest{
		PresetKey: "quick-image",
		Prompt:    "a cat",
	})
	if !errors.Is(err, credit.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if f.provider.createCalls != 0 {
		t.Fatal("provider must not be called when the reservation fails")
	}

	// The generation row exists and is failed, not retryable.
	for _, g := range mustList(t, f) {
		if g.Status != generation.StatusFailed {
			t.Errorf("status = %q, want failed", g.Status)
		}
		if g.Retryable {
			t.Error("insufficient credits must not be retryable")
		}
	}
}

type failingLedger struct{ err error }

func (l *failingLedger) Reserve(ctx context.Context, ownerID, generationID uuid.UUID, amount credit.Amount) error {
	return l.err
}
func (l *failingLedger) Finalize(ctx context.Context, generationID uuid.UUID, actual credit.Amount) error {
	return nil
}
func (l *failingLedger) Refund(ctx context.Context, generationID uuid.UUID) error { return nil }

func mustList(t *testing.T, f *fixture) []generation.Generation {
	t.Helper()
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	out := []generation.Generation{}
	for _, g := range f.repo.rows {
		out = append(out, *g)
	}
	return out
}

func TestCreateTransientProviderFailureRefunds(t *testing.T) {
	f := newFixture()
	f.provider.createErr = &kie.ProviderError{Kind: kie.KindTransient, Message: "timeout"}

	_, err := f.svc.Create(context.Background(), uuid.New(), generation.CreateRequest{
		PresetKey: "quick-image",
		Prompt:    "a cat",
	})
	if !errors.Is(err, generation.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}

	if f.ledger.refunds != 1 {
		t.Errorf("refunds = %d, want 1", f.ledger.refunds)
	}
	for _, g := range mustList(t, f) {
		if g.Status != generation.StatusFailed {
			t.Errorf("status = %q, want failed", g.Status)
		}
		if !g.Retryable {
			t.Error("transient submission failure must be retryable")
		}
	}
}

func TestCreateModelRejectedNotRetryable(t *testing.T) {
	f := newFixture()
	f.provider.createErr = &kie.ProviderError{Kind: kie.KindModelRejected, Code: 422, Message: "model not supported"}

	_, err := f.svc.Create(context.Background(), uuid.New(), generation.CreateRequest{
		PresetKey: "quick-image",
		Prompt:    "a cat",
	})
	if !errors.Is(err, generation.ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
	if f.ledger.refunds != 1 {
		t.Errorf("refunds = %d, want 1", f.ledger.refunds)
	}
	for _, g := range mustList(t, f) {
		if g.Retryable {
			t.Error("model rejection must not be retryable")
		}
	}
}

func TestReconcileSuccessSettlesOnce(t *testing.T) {
	f := newFixture()
	g := createGeneration(t, f)

	f.provider.mu.Lock()
	f.provider.status = kie.StatusSucceeded
	f.provider.outputURL = "https://provider.test/out.png"
	f.provider.mu.Unlock()

	got, err := f.svc.Reconcile(context.Background(), g.ID, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got.Status != generation.StatusSucceeded {
		t.Fatalf("status = %q, want succeeded", got.Status)
	}
	if f.materializer.stores != 1 {
		t.Errorf("stores = %d, want 1", f.materializer.stores)
	}
	if f.ledger.finalizes != 1 {
		t.Errorf("finalizes = %d, want 1", f.ledger.finalizes)
	}

	// A second reconcile of the terminal row touches nothing.
	before := f.provider.statusCalls
	_, err = f.svc.Reconcile(context.Background(), g.ID, nil)
	if err != nil {
		t.Fatalf("repeat Reconcile: %v", err)
	}
	if f.provider.statusCalls != before {
		t.Error("terminal generation must not be polled")
	}
}

func TestConcurrentReconcileConverges(t *testing.T) {
	f := newFixture()
	g := createGeneration(t, f)

	f.provider.mu.Lock()
	f.provider.status = kie.StatusSucceeded
	f.provider.outputURL = "https://provider.test/out.png"
	f.provider.mu.Unlock()

	const goroutines = 16
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Reconcile(context.Background(), g.ID, nil); err != nil {
				t.Errorf("Reconcile: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := f.repo.GetByID(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != generation.StatusSucceeded {
		t.Fatalf("status = %q, want succeeded", got.Status)
	}
	if f.materializer.stores != 1 {
		t.Errorf("stores = %d, want exactly 1", f.materializer.stores)
	}
	if f.ledger.finalizes != 1 {
		t.Errorf("finalizes = %d, want exactly 1", f.ledger.finalizes)
	}
	if f.ledger.refunds != 0 {
		t.Errorf("refunds = %d, want 0", f.ledger.refunds)
	}
}

func TestWebhookAndPollDoubleFire(t *testing.T) {
	f := newFixture()
	g := createGeneration(t, f)

	f.provider.mu.Lock()
	f.provider.status = kie.StatusSucceeded
	f.provider.outputURL = "https://provider.test/out.png"
	f.provider.mu.Unlock()

	hint := &generation.Hint{
		Status:    kie.StatusSucceeded,
		OutputURL: "https://provider.test/out.png",
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := f.svc.HandleWebhook(context.Background(), "task-1", hint, []byte(`{"data":{"taskId":"task-1","state":"success"}}`)); err != nil {
			t.Errorf("HandleWebhook: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := f.svc.Reconcile(context.Background(), g.ID, nil); err != nil {
			t.Errorf("Reconcile: %v", err)
		}
	}()
	wg.Wait()

	got, err := f.repo.GetByID(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != generation.StatusSucceeded {
		t.Fatalf("status = %q, want succeeded", got.Status)
	}
	if f.materializer.stores != 1 {
		t.Errorf("stores = %d, want exactly 1", f.materializer.stores)
	}
	if f.ledger.finalizes != 1 {
		t.Errorf("finalizes = %d, want exactly 1", f.ledger.finalizes)
	}
}

func TestReconcileFailureRefunds(t *testing.T) {
	f := newFixture()
	g := createGeneration(t, f)

	f.provider.mu.Lock()
	f.provider.status = kie.StatusFailed
	f.provider.mu.Unlock()

	got, err := f.svc.Reconcile(context.Background(), g.ID, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got.Status != generation.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if f.ledger.refunds != 1 {
		t.Errorf("refunds = %d, want 1", f.ledger.refunds)
	}
	if f.ledger.finalizes != 0 {
		t.Errorf("finalizes = %d, want 0", f.ledger.finalizes)
	}
}

func TestReconcileProviderDownLeavesStateUntouched(t *testing.T) {
	f := newFixture()
	g := createGeneration(t, f)

	f.provider.mu.Lock()
	f.provider.statusErr = &kie.ProviderError{Kind: kie.KindTransient, Message: "timeout"}
	f.provider.mu.Unlock()

	got, err := f.svc.Reconcile(context.Background(), g.ID, nil)
	if err != nil {
		t.Fatalf("Reconcile must not fail on a transient poll error: %v", err)
	}
	if got.Status.Terminal() {
		t.Fatalf("status = %q, must stay non-terminal", got.Status)
	}
	if f.ledger.refunds != 0 || f.ledger.finalizes != 0 {
		t.Error("no settlement may happen while the provider is unreachable")
	}
}

func TestReconcileNeverCreatedTaskTimesOut(t *testing.T) {
	f := newFixture()
	f.svc = generation.NewService(f.repo, f.ledger, f.provider, f.materializer, f.catalog, nil, generation.Config{
		StaleAfter: 200 * time.Millisecond,
	})

	ownerID := uuid.New()
	g := &generation.Generation{
		OwnerID:      ownerID,
		PresetKey:    "quick-image",
		ModelKey:     "seedream-v4-text-to-image",
		Prompt:       "a cat",
		ReservedCost: credit.Credits(4),
	}
	if err := f.repo.Create(context.Background(), g); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.ledger.Reserve(context.Background(), ownerID, g.ID, g.ReservedCost); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	// Within the grace window nothing happens.
	got, err := f.svc.Reconcile(context.Background(), g.ID, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got.Status.Terminal() {
		t.Fatal("generation must not be failed inside the grace window")
	}

	time.Sleep(250 * time.Millisecond)

	got, err = f.svc.Reconcile(context.Background(), g.ID, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got.Status != generation.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if f.ledger.refunds != 1 {
		t.Errorf("refunds = %d, want 1", f.ledger.refunds)
	}
}

func TestCancelRefundsAndTerminates(t *testing.T) {
	f := newFixture()
	g := createGeneration(t, f)

	got, err := f.svc.Cancel(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != generation.StatusCancelled {
		t.Fatalf("status = %q, want cancelled", got.Status)
	}
	if f.ledger.refunds != 1 {
		t.Errorf("refunds = %d, want 1", f.ledger.refunds)
	}

	if _, err := f.svc.Cancel(context.Background(), g.ID); !errors.Is(err, generation.ErrAlreadyTerminal) {
		t.Fatalf("repeat cancel: expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestSweeperSettlesStaleGeneration(t *testing.T) {
	f := newFixture()
	g := createGeneration(t, f)

	f.provider.mu.Lock()
	f.provider.status = kie.StatusSucceeded
	f.provider.outputURL = "https://provider.test/out.png"
	f.provider.mu.Unlock()

	// Age the row past the stale cutoff.
	f.repo.mu.Lock()
	f.repo.rows[g.ID].UpdatedAt = time.Now().Add(-time.Hour)
	f.repo.mu.Unlock()

	sweeper := generation.NewSweeper(f.svc, f.repo, time.Minute, time.Minute)
	sweeper.Sweep()

	got, err := f.repo.GetByID(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != generation.StatusSucceeded {
		t.Fatalf("status = %q, want succeeded after sweep", got.Status)
	}
	if f.ledger.finalizes != 1 {
		t.Errorf("finalizes = %d, want 1", f.ledger.finalizes)
	}
}
