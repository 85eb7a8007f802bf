package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/querystudio/querystudio/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	Update(user *models.User) error
	Delete(id uint) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
	Search(query string) ([]models.User, error)
	GetDailySignups(startDate, endDate time.Time) ([]DailyCount, error)
}

// EntitlementRepository defines read-side queries over entitlement state used
// by admin tooling. Transitions go through the entitlement store, never here.
type EntitlementRepository interface {
	CountActive() (int64, error)
	CountActiveByPlan() (map[string]int64, error)
}

// WebhookEventRepository defines queries over the billing event audit trail
type WebhookEventRepository interface {
	CountSince(since time.Time) (int64, error)
	CountUnprocessed() (int64, error)
}

// DailyCount is one day of an aggregated time series
type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// Repositories struct holds all repository instances
type Repositories struct {
	User         UserRepository
	Entitlement  EntitlementRepository
	WebhookEvent WebhookEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Entitlement:  NewEntitlementRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
	}
}
