package license

import (
	"gorm.io/gorm"

	"github.com/querystudio/querystudio/app/models"
	"github.com/querystudio/querystudio/internal/pkg/metrics/counter"
)

// Repository provides DB operations used by the license service.
type Repository interface {
	GetLicenseByKey(key string) (*models.LicenseKey, error)
	GetUser(userID uint) (*models.User, error)
	GetBillingAccountByUser(userID uint) (*models.BillingAccount, error)
	CountActivations(licenseKeyID uint) (int64, error)
	GetActivation(licenseKeyID uint, activationID string) (*models.LicenseActivation, error)
	GetActivationByDevice(licenseKeyID uint, deviceID string) (*models.LicenseActivation, error)
	CreateActivation(act *models.LicenseActivation) error
	DeleteActivation(licenseKeyID uint, activationID string) (int64, error)
	IncrementValidations(licenseKeyID uint) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a license repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetLicenseByKey(key string) (*models.LicenseKey, error) {
	var lk models.LicenseKey
	if err := r.db.Where("`key` = ?", key).First(&lk).Error; err != nil {
		return nil, err
	}
	return &lk, nil
}

func (r *gormRepository) GetUser(userID uint) (*models.User, error) {
	var u models.User
	if err := r.db.First(&u, userID).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) GetBillingAccountByUser(userID uint) (*models.BillingAccount, error) {
	var acct models.BillingAccount
	if err := r.db.Where("user_id = ?", userID).First(&acct).Error; err != nil {
		return nil, err
	}
	return &acct, nil
}

func (r *gormRepository) CountActivations(licenseKeyID uint) (int64, error) {
	var n int64
	err := r.db.Model(&models.LicenseActivation{}).Where("license_key_id = ?", licenseKeyID).Count(&n).Error
	return n, err
}

func (r *gormRepository) GetActivation(licenseKeyID uint, activationID string) (*models.LicenseActivation, error) {
	var act models.LicenseActivation
	err := r.db.Where("license_key_id = ? AND activation_id = ?", licenseKeyID, activationID).First(&act).Error
	if err != nil {
		return nil, err
	}
	return &act, nil
}

func (r *gormRepository) GetActivationByDevice(licenseKeyID uint, deviceID string) (*models.LicenseActivation, error) {
	var act models.LicenseActivation
	err := r.db.Where("license_key_id = ? AND device_id = ?", licenseKeyID, deviceID).First(&act).Error
	if err != nil {
		return nil, err
	}
	return &act, nil
}

func (r *gormRepository) CreateActivation(act *models.LicenseActivation) error {
	return r.db.Create(act).Error
}

func (r *gormRepository) DeleteActivation(licenseKeyID uint, activationID string) (int64, error) {
	tx := r.db.Where("license_key_id = ? AND activation_id = ?", licenseKeyID, activationID).
		Delete(&models.LicenseActivation{})
	return tx.RowsAffected, tx.Error
}

// IncrementValidations buffers the increment in Redis; the maintenance
// manager flushes buffered counts to license_keys in batches. The returned
// count can therefore lag the true total by one flush interval.
func (r *gormRepository) IncrementValidations(licenseKeyID uint) error {
	return counter.AddLicenseValidation(licenseKeyID)
}
