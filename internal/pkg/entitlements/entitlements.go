package entitlements

import (
	"context"
	"errors"
	"sync"

	"gorm.io/gorm"

	"github.com/querystudio/querystudio/app/models"
)

// Store owns the authoritative mapping from user id to entitlement state.
// Update is linearizable per user: two concurrent transitions for the same
// user serialize, transitions for different users proceed in parallel.
type Store interface {
	Get(ctx context.Context, userID uint) (*models.Entitlement, error)
	Update(ctx context.Context, userID uint, fn func(*models.Entitlement) (bool, error)) (*models.Entitlement, error)
}

type gormStore struct {
	db    *gorm.DB
	locks keyedMutex
}

// NewStore creates an entitlement store backed by GORM.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// Get returns the stored entitlement for a user, or a default inactive
// record when no billing event has ever touched the user. It never fails
// on unknown users.
func (s *gormStore) Get(ctx context.Context, userID uint) (*models.Entitlement, error) {
	var ent models.Entitlement
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&ent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.Entitlement{UserID: userID, Active: false}, nil
		}
		return nil, err
	}
	return &ent, nil
}

// Update runs fn against the current state under the user's lock and saves
// the record when fn reports a mutation. The row is created (inactive) on
// first reference.
func (s *gormStore) Update(ctx context.Context, userID uint, fn func(*models.Entitlement) (bool, error)) (*models.Entitlement, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	var ent models.Entitlement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(models.Entitlement{UserID: userID}).
			FirstOrCreate(&ent, models.Entitlement{UserID: userID, Active: false}).Error; err != nil {
			return err
		}

		apply, err := fn(&ent)
		if err != nil {
			return err
		}
		if !apply {
			return nil
		}
		return tx.Save(&ent).Error
	})
	if err != nil {
		return nil, err
	}
	return &ent, nil
}

// keyedMutex provides one mutex per user id. Entries are not evicted; the
// set of users with billing traffic is small relative to memory.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func (k *keyedMutex) lock(key uint) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[uint]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
