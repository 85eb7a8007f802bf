package billing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/querystudio/querystudio/app/models"
)

type fakeRepo struct {
	mu        sync.Mutex
	accounts  map[string]*models.BillingAccount // keyed by provider customer id
	events    map[string]*models.BillingWebhookEvent
	processed map[uint]string
	nextID    uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		accounts:  make(map[string]*models.BillingAccount),
		events:    make(map[string]*models.BillingWebhookEvent),
		processed: make(map[uint]string),
	}
}

func (r *fakeRepo) addAccount(userID uint, customerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[customerID] = &models.BillingAccount{
		UserID:             userID,
		Provider:           models.BillingProviderPolar,
		ProviderCustomerID: customerID,
	}
}

func (r *fakeRepo) GetBillingAccountByCustomerID(_, customerID string) (*models.BillingAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if acct, ok := r.accounts[customerID]; ok {
		return acct, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) UpsertBillingAccount(account *models.BillingAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[account.ProviderCustomerID] = account
	return nil
}

func (r *fakeRepo) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := event.Provider + ":" + event.ProviderEventID
	if stored, ok := r.events[key]; ok {
		return false, stored, nil
	}
	r.nextID++
	event.ID = r.nextID
	r.events[key] = event
	return true, event, nil
}

func (r *fakeRepo) MarkWebhookProcessed(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed[id] = processingError
	for _, ev := range r.events {
		if ev.ID == id {
			now := time.Now()
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
		}
	}
	return nil
}

func (r *fakeRepo) PruneEventsBefore(cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pruned int64
	for key, ev := range r.events {
		if ev.CreatedAt.Before(cutoff) && !ev.CreatedAt.IsZero() {
			delete(r.events, key)
			pruned++
		}
	}
	return pruned, nil
}

type fakeStore struct {
	mu       sync.Mutex
	states   map[uint]*models.Entitlement
	failNext error
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: make(map[uint]*models.Entitlement)}
}

func (s *fakeStore) Get(_ context.Context, userID uint) (*models.Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ent, ok := s.states[userID]; ok {
		clone := *ent
		return &clone, nil
	}
	return &models.Entitlement{UserID: userID, Active: false}, nil
}

func (s *fakeStore) Update(_ context.Context, userID uint, fn func(*models.Entitlement) (bool, error)) (*models.Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return nil, err
	}
	ent, ok := s.states[userID]
	if !ok {
		ent = &models.Entitlement{UserID: userID, Active: false}
		s.states[userID] = ent
	}
	if _, err := fn(ent); err != nil {
		return nil, err
	}
	clone := *ent
	return &clone, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []uint
}

func (n *fakeNotifier) EntitlementChanged(userID uint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, userID)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func testEvent(id, eventType, customerID string, occurredAt time.Time) *VerifiedEvent {
	return &VerifiedEvent{
		ID:         id,
		Type:       eventType,
		CustomerID: customerID,
		OccurredAt: occurredAt,
		Raw:        []byte(`{}`),
	}
}

func TestReconcilerApply_OrderPaidActivates(t *testing.T) {
	repo := newFakeRepo()
	repo.addAccount(7, "cus_7")
	store := newFakeStore()
	rec := NewReconciler(repo, store, nil)

	result, err := rec.Apply(context.Background(), testEvent("evt_1", EventOrderPaid, "cus_7", time.Unix(1000, 0)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, result.Outcome)
	assert.Equal(t, uint(7), result.UserID)

	ent, err := store.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, ent.Active)
	assert.Equal(t, "evt_1", ent.LastEventID)
}

func TestReconcilerApply_DuplicateIsAcknowledgedOnce(t *testing.T) {
	repo := newFakeRepo()
	repo.addAccount(7, "cus_7")
	store := newFakeStore()
	notifier := &fakeNotifier{}
	rec := NewReconciler(repo, store, notifier)

	ev := testEvent("evt_1", EventSubscriptionActive, "cus_7", time.Unix(1000, 0))
	ev.SubscriptionID = "sub_1"

	first, err := rec.Apply(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, first.Outcome)

	second, err := rec.Apply(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)

	ent, err := store.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, ent.Active)
	assert.Equal(t, "sub_1", ent.SubscriptionID)

	// give the fire-and-forget notifier a moment
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, notifier.count())
}

func TestReconcilerApply_RedeliveryAfterFailureRetries(t *testing.T) {
	repo := newFakeRepo()
	repo.addAccount(7, "cus_7")
	store := newFakeStore()
	rec := NewReconciler(repo, store, nil)

	ev := testEvent("evt_1", EventOrderPaid, "cus_7", time.Unix(1000, 0))

	store.failNext = fmt.Errorf("db unavailable")
	_, err := rec.Apply(context.Background(), ev)
	require.Error(t, err, "failed transition must not be acknowledged")

	// The provider redelivers; the recorded-but-unprocessed event gets to
	// run its transition instead of being treated as a duplicate.
	result, err := rec.Apply(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, result.Outcome)

	ent, err := store.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, ent.Active)
}

func TestReconcilerApply_StaleEventDoesNotRollBack(t *testing.T) {
	repo := newFakeRepo()
	repo.addAccount(7, "cus_7")
	store := newFakeStore()
	rec := NewReconciler(repo, store, nil)

	// The cancellation occurred later but arrives first.
	canceled := testEvent("evt_cancel", EventSubscriptionCanceled, "cus_7", time.Unix(2000, 0))
	active := testEvent("evt_active", EventSubscriptionActive, "cus_7", time.Unix(1000, 0))

	result, err := rec.Apply(context.Background(), canceled)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, result.Outcome)

	result, err = rec.Apply(context.Background(), active)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, result.Outcome)

	ent, err := store.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, ent.Active, "late-arriving older activation must not undo the cancellation")
	assert.Equal(t, "evt_cancel", ent.LastEventID)
}

func TestReconcilerApply_RetriedDeliveryKeepsEventRecency(t *testing.T) {
	repo := newFakeRepo()
	repo.addAccount(7, "cus_7")
	store := newFakeStore()
	rec := NewReconciler(repo, store, nil)

	// The cancellation occurred first but its delivery failed, so the
	// provider retries it after the activation already arrived. Each retry
	// is re-signed with a fresh header timestamp; what must decide is the
	// occurrence time carried in the payload.
	base := time.Unix(1700000000, 0).UTC()
	canceledAt := base.Format(time.RFC3339)
	activatedAt := base.Add(1 * time.Minute).Format(time.RFC3339)

	activePayload := []byte(`{"type":"subscription.active","data":{"id":"sub_1","customer_id":"cus_7","product_id":"prod_pro","modified_at":"` + activatedAt + `"}}`)
	canceledPayload := []byte(`{"type":"subscription.canceled","data":{"id":"sub_1","customer_id":"cus_7","modified_at":"` + canceledAt + `"}}`)

	deliver := func(id string, signedAt time.Time, payload []byte) *ReconcileResult {
		t.Helper()
		headers := signTestPayload(t, id, signedAt, payload)
		ev, err := verifyWebhookAt(payload, headers, testSecret, signedAt, DefaultTolerance)
		require.NoError(t, err)
		result, err := rec.Apply(context.Background(), ev)
		require.NoError(t, err)
		return result
	}

	result := deliver("evt_active", base.Add(2*time.Minute), activePayload)
	assert.Equal(t, OutcomeApplied, result.Outcome)

	// Retried cancellation: signed later than the activation's delivery,
	// occurred earlier.
	result = deliver("evt_cancel", base.Add(4*time.Minute), canceledPayload)
	assert.Equal(t, OutcomeStale, result.Outcome)

	ent, err := store.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, ent.Active, "retried older cancellation must not undo the newer activation")
	assert.Equal(t, "evt_active", ent.LastEventID)
}

func TestReconcilerApply_UnknownCustomerIsNoOp(t *testing.T) {
	repo := newFakeRepo()
	store := newFakeStore()
	rec := NewReconciler(repo, store, nil)

	result, err := rec.Apply(context.Background(), testEvent("evt_1", EventOrderPaid, "cus_missing", time.Unix(1000, 0)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknownAccount, result.Outcome)
	assert.Empty(t, store.states)
}

func TestReconcilerApply_UnrecognizedTypeIgnored(t *testing.T) {
	repo := newFakeRepo()
	repo.addAccount(7, "cus_7")
	store := newFakeStore()
	rec := NewReconciler(repo, store, nil)

	result, err := rec.Apply(context.Background(), testEvent("evt_1", "benefit_grant.created", "cus_7", time.Unix(1000, 0)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, result.Outcome)
	assert.Empty(t, store.states)
}

func TestReconcilerApply_CustomerCreatedLinksAccount(t *testing.T) {
	repo := newFakeRepo()
	store := newFakeStore()
	rec := NewReconciler(repo, store, nil)

	ev := testEvent("evt_1", EventCustomerCreated, "cus_42", time.Unix(1000, 0))
	ev.ExternalUserID = "42"
	ev.CustomerEmail = "dev@example.com"

	result, err := rec.Apply(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLinked, result.Outcome)

	acct, err := repo.GetBillingAccountByCustomerID(models.BillingProviderPolar, "cus_42")
	require.NoError(t, err)
	assert.Equal(t, uint(42), acct.UserID)
}

func TestReconcilerApply_CrossAccountIsolation(t *testing.T) {
	repo := newFakeRepo()
	store := newFakeStore()
	rec := NewReconciler(repo, store, nil)

	const accounts = 8
	const eventsPerAccount = 10

	type expectation struct {
		active      bool
		lastEventID string
	}
	expected := make(map[uint]expectation)

	var events []*VerifiedEvent
	for a := 1; a <= accounts; a++ {
		customer := fmt.Sprintf("cus_%d", a)
		repo.addAccount(uint(a), customer)
		for i := 0; i < eventsPerAccount; i++ {
			eventType := EventSubscriptionActive
			if i%2 == 1 {
				eventType = EventSubscriptionCanceled
			}
			ev := testEvent(fmt.Sprintf("evt_%d_%d", a, i), eventType, customer, time.Unix(int64(1000+i), 0))
			events = append(events, ev)
		}
		// Highest occurred-at wins regardless of arrival order.
		expected[uint(a)] = expectation{
			active:      (eventsPerAccount-1)%2 == 0,
			lastEventID: fmt.Sprintf("evt_%d_%d", a, eventsPerAccount-1),
		}
	}

	var wg sync.WaitGroup
	for _, ev := range events {
		wg.Add(1)
		go func(ev *VerifiedEvent) {
			defer wg.Done()
			_, err := rec.Apply(context.Background(), ev)
			assert.NoError(t, err)
		}(ev)
	}
	wg.Wait()

	for userID, want := range expected {
		ent, err := store.Get(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, want.active, ent.Active, "user %d", userID)
		assert.Equal(t, want.lastEventID, ent.LastEventID, "user %d", userID)
	}
}
