package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/querystudio/querystudio/app/models"
)

// entitlementRepository implements the EntitlementRepository interface
type entitlementRepository struct {
	db *gorm.DB
}

// NewEntitlementRepository creates a new entitlement repository instance
func NewEntitlementRepository(db *gorm.DB) EntitlementRepository {
	return &entitlementRepository{db: db}
}

// CountActive returns the number of accounts with an active entitlement
func (r *entitlementRepository) CountActive() (int64, error) {
	var count int64
	err := r.db.Model(&models.Entitlement{}).Where("active = ?", true).Count(&count).Error
	return count, err
}

// CountActiveByPlan breaks active entitlements down by plan
func (r *entitlementRepository) CountActiveByPlan() (map[string]int64, error) {
	var rows []struct {
		PlanID string
		Count  int64
	}
	err := r.db.Model(&models.Entitlement{}).
		Select("plan_id, COUNT(*) as count").
		Where("active = ?", true).
		Group("plan_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	byPlan := make(map[string]int64, len(rows))
	for _, row := range rows {
		byPlan[row.PlanID] = row.Count
	}
	return byPlan, nil
}

// webhookEventRepository implements the WebhookEventRepository interface
type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a new webhook event repository instance
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

// CountSince returns the number of billing events received after since
func (r *webhookEventRepository) CountSince(since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&models.BillingWebhookEvent{}).Where("created_at >= ?", since).Count(&count).Error
	return count, err
}

// CountUnprocessed returns the number of events that have not been applied
// cleanly yet, either still pending or failed and awaiting redelivery
func (r *webhookEventRepository) CountUnprocessed() (int64, error) {
	var count int64
	err := r.db.Model(&models.BillingWebhookEvent{}).
		Where("processed_at IS NULL OR processing_error <> ''").
		Count(&count).Error
	return count, err
}
