package billing

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/querystudio/querystudio/app/models"
	"github.com/querystudio/querystudio/internal/pkg/entitlements"
	"github.com/querystudio/querystudio/internal/pkg/env"
)

// EventRetention is how long processed event identities are kept for
// deduplication. The provider redelivers failed webhooks for at most 72h,
// so anything older can no longer arrive as a retry.
const EventRetention = 72 * time.Hour

// Outcome classifies what a verified event did to local state.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeStale          Outcome = "stale"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeUnknownAccount Outcome = "unknown_account"
	OutcomeLinked         Outcome = "linked"
)

// ReconcileResult reports the effect of applying one event.
type ReconcileResult struct {
	Outcome     Outcome
	UserID      uint
	Entitlement *models.Entitlement
}

// Notifier receives best-effort change notifications after a successful
// mutation. Implementations must not block the reconciliation path.
type Notifier interface {
	EntitlementChanged(userID uint)
}

// Reconciler maps verified provider events to idempotent mutations of the
// per-user entitlement record.
type Reconciler struct {
	repo     Repository
	store    entitlements.Store
	notifier Notifier
}

// NewReconciler creates a reconciler from its collaborators. notifier may be
// nil when no realtime fan-out is attached.
func NewReconciler(repo Repository, store entitlements.Store, notifier Notifier) *Reconciler {
	return &Reconciler{repo: repo, store: store, notifier: notifier}
}

// NewReconcilerFromDB wires the reconciler against a GORM handle.
func NewReconcilerFromDB(db *gorm.DB, notifier Notifier) *Reconciler {
	return NewReconciler(NewRepository(db), entitlements.NewStore(db), notifier)
}

// Apply records the event for deduplication and applies its transition to
// the target user's entitlement. Duplicate, stale, unknown-customer and
// unrecognized events are acknowledged without mutation. A returned error
// means the event must NOT be acknowledged so the provider redelivers it.
func (r *Reconciler) Apply(ctx context.Context, ev *VerifiedEvent) (*ReconcileResult, error) {
	created, stored, err := r.repo.CreateWebhookEventIfNotExists(&models.BillingWebhookEvent{
		Provider:        models.BillingProviderPolar,
		ProviderEventID: ev.ID,
		EventType:       ev.Type,
		PayloadJSON:     string(ev.Raw),
		SignatureValid:  true,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		// Only a cleanly processed event is a duplicate. A redelivery of an
		// event whose transition failed gets to retry it; the transition
		// itself is idempotent under the recency check.
		if stored.ProcessedAt != nil && stored.ProcessingError == "" {
			return &ReconcileResult{Outcome: OutcomeDuplicate}, nil
		}
	}

	result, applyErr := r.applyTransition(ctx, ev)
	r.markProcessed(stored.ID, applyErr)
	if applyErr != nil {
		return nil, applyErr
	}

	if result.Outcome == OutcomeApplied && r.notifier != nil {
		// Fire-and-forget so a slow fan-out cannot delay the webhook response.
		go r.notifier.EntitlementChanged(result.UserID)
	}
	return result, nil
}

func (r *Reconciler) applyTransition(ctx context.Context, ev *VerifiedEvent) (*ReconcileResult, error) {
	switch ev.Type {
	case EventCustomerCreated, EventCustomerUpdated:
		return r.linkCustomer(ev)
	case EventOrderPaid, EventSubscriptionActive, EventSubscriptionCanceled, EventSubscriptionRevoked:
		// handled below
	default:
		return &ReconcileResult{Outcome: OutcomeIgnored}, nil
	}

	if ev.CustomerID == "" {
		return nil, ErrMalformed
	}

	account, err := r.repo.GetBillingAccountByCustomerID(models.BillingProviderPolar, ev.CustomerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Checkout events can precede account linkage; acknowledge so the
			// provider does not retry forever.
			return &ReconcileResult{Outcome: OutcomeUnknownAccount}, nil
		}
		return nil, err
	}

	outcome := OutcomeStale
	ent, err := r.store.Update(ctx, account.UserID, func(state *models.Entitlement) (bool, error) {
		// Recency, not arrival order, decides: an older event delivered late
		// must not undo the effect of a newer one.
		if state.LastEventAt != nil && !ev.OccurredAt.After(*state.LastEventAt) {
			return false, nil
		}

		switch ev.Type {
		case EventOrderPaid:
			state.Active = true
			state.CancelAtPeriodEnd = false
		case EventSubscriptionActive:
			state.Active = true
			state.SubscriptionID = ev.SubscriptionID
			state.PlanID = string(planForProduct(ev.PlanID))
			state.CancelAtPeriodEnd = ev.CancelAtPeriodEnd
		case EventSubscriptionCanceled:
			state.Active = false
			state.CancelAtPeriodEnd = ev.CancelAtPeriodEnd
		case EventSubscriptionRevoked:
			state.Active = false
			state.CancelAtPeriodEnd = false
		}

		occurred := ev.OccurredAt
		state.LastEventAt = &occurred
		state.LastEventID = ev.ID
		outcome = OutcomeApplied
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return &ReconcileResult{Outcome: outcome, UserID: account.UserID, Entitlement: ent}, nil
}

// linkCustomer attaches a provider customer to the local user named by the
// checkout's external id. This is the lazy first-checkout linkage; customer
// events without an external id are ignored.
func (r *Reconciler) linkCustomer(ev *VerifiedEvent) (*ReconcileResult, error) {
	userID := parseUserID(ev.ExternalUserID)
	if userID == 0 || ev.CustomerID == "" {
		return &ReconcileResult{Outcome: OutcomeIgnored}, nil
	}

	account := &models.BillingAccount{
		UserID:             userID,
		Provider:           models.BillingProviderPolar,
		ProviderCustomerID: ev.CustomerID,
		Email:              ev.CustomerEmail,
	}
	if err := r.repo.UpsertBillingAccount(account); err != nil {
		return nil, err
	}
	return &ReconcileResult{Outcome: OutcomeLinked, UserID: userID}, nil
}

func (r *Reconciler) markProcessed(eventID uint, processingErr error) {
	msg := ""
	if processingErr != nil {
		msg = processingErr.Error()
	}
	if err := r.repo.MarkWebhookProcessed(eventID, msg); err != nil {
		log.Errorf("billing: failed to mark webhook %d processed: %v", eventID, err)
	}
}

// PruneExpiredEvents drops dedup rows past the retention window. Called
// periodically by the maintenance manager.
func (r *Reconciler) PruneExpiredEvents() (int64, error) {
	return r.repo.PruneEventsBefore(time.Now().Add(-EventRetention))
}

// planForProduct maps a provider product id to an internal plan via
// configuration. Unmapped products entitle the base paid tier.
func planForProduct(productID string) entitlements.Plan {
	id := strings.TrimSpace(productID)
	switch {
	case id == "":
		return entitlements.PlanPro
	case id == strings.TrimSpace(env.GetEnv("POLAR_PRODUCT_TEAM", "")):
		return entitlements.PlanTeam
	case id == strings.TrimSpace(env.GetEnv("POLAR_PRODUCT_PRO", "")):
		return entitlements.PlanPro
	default:
		return entitlements.PlanPro
	}
}

func parseUserID(raw string) uint {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return 0
	}
	return uint(id)
}
