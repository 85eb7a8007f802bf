package models

import "time"

// Entitlement is the per-user access record derived from billing events.
// Rows are created implicitly (inactive) on first reference and are only
// mutated by the reconciler; they are never hard-deleted.
//
// LastEventAt/LastEventID record the most recently applied provider event so
// that late redeliveries of older events cannot roll the state backwards.
type Entitlement struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UserID            uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	Active            bool       `gorm:"not null;default:false;index" json:"active"`
	PlanID            string     `gorm:"type:varchar(191);default:''" json:"plan_id"`
	SubscriptionID    string     `gorm:"type:varchar(191);default:''" json:"subscription_id"`
	CancelAtPeriodEnd bool       `gorm:"not null;default:false" json:"cancel_at_period_end"`
	LastEventAt       *time.Time `gorm:"type:timestamp;default:null" json:"last_event_at,omitempty"`
	LastEventID       string     `gorm:"type:varchar(191);default:''" json:"last_event_id"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
