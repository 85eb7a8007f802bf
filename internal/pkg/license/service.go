package license

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/querystudio/querystudio/app/models"
	"github.com/querystudio/querystudio/internal/pkg/entitlements"
)

// Validation failure reasons surfaced to the desktop client. These are
// terminal for the attempt; the client shows them verbatim.
const (
	reasonNotFound       = "license key not found"
	reasonRevoked        = "license key has been revoked"
	reasonExpired        = "license key has expired"
	reasonInactive       = "subscription for this license is not active"
	reasonActivationCap  = "maximum number of activations reached"
	reasonNoActivation   = "activation not found"
	reasonMissingDevice  = "device id is required"
	reasonMissingLicense = "license key is required"
)

// LicenseInfo is the client-facing license shape. Field names mirror the
// desktop client's serde mapping, so everything is camelCase.
type LicenseInfo struct {
	ID               string  `json:"id"`
	Key              string  `json:"key"`
	DisplayKey       string  `json:"displayKey"`
	Status           string  `json:"status"`
	CustomerID       string  `json:"customerId"`
	Email            string  `json:"email"`
	CustomerName     *string `json:"customerName"`
	ActivationsCount int     `json:"activationsCount"`
	MaxActivations   *int    `json:"maxActivations"`
	Usage            int     `json:"usage"`
	MaxUsage         *int    `json:"maxUsage"`
	Validations      int     `json:"validations"`
	ExpiresAt        *string `json:"expiresAt"`
	CreatedAt        string  `json:"createdAt"`
	BenefitID        string  `json:"benefitId"`
}

// ValidateResult is the outcome of a validate or activate check.
type ValidateResult struct {
	Valid   bool
	Reason  string
	License *LicenseInfo
}

// ActivateResult is the outcome of a device activation.
type ActivateResult struct {
	Success      bool
	Reason       string
	ActivationID string
	License      *LicenseInfo
}

// Service answers the desktop client's license API. A license is only valid
// while the owning account's entitlement is active, so validation reads the
// entitlement store on every call.
type Service struct {
	repo  Repository
	store entitlements.Store
}

// NewService creates a license service from injected collaborators.
func NewService(repo Repository, store entitlements.Store) *Service {
	return &Service{repo: repo, store: store}
}

// NewServiceFromDB wires the service against a GORM handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), entitlements.NewStore(db))
}

// Validate checks a license key without consuming an activation slot.
func (s *Service) Validate(ctx context.Context, licenseKey string) (*ValidateResult, error) {
	key := strings.TrimSpace(licenseKey)
	if key == "" {
		return &ValidateResult{Valid: false, Reason: reasonMissingLicense}, nil
	}

	lk, reason, err := s.checkKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return &ValidateResult{Valid: false, Reason: reason}, nil
	}

	if err := s.repo.IncrementValidations(lk.ID); err != nil {
		return nil, err
	}
	lk.Validations++

	info, err := s.licenseInfo(lk)
	if err != nil {
		return nil, err
	}
	return &ValidateResult{Valid: true, License: info}, nil
}

// Activate registers a device against the license, enforcing the activation
// cap. Re-activating an already-registered device returns the existing
// activation instead of consuming another slot.
func (s *Service) Activate(ctx context.Context, licenseKey, deviceID, deviceName string) (*ActivateResult, error) {
	key := strings.TrimSpace(licenseKey)
	device := strings.TrimSpace(deviceID)
	if key == "" {
		return &ActivateResult{Success: false, Reason: reasonMissingLicense}, nil
	}
	if device == "" {
		return &ActivateResult{Success: false, Reason: reasonMissingDevice}, nil
	}

	lk, reason, err := s.checkKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return &ActivateResult{Success: false, Reason: reason}, nil
	}

	if existing, err := s.repo.GetActivationByDevice(lk.ID, device); err == nil {
		info, infoErr := s.licenseInfo(lk)
		if infoErr != nil {
			return nil, infoErr
		}
		return &ActivateResult{Success: true, ActivationID: existing.ActivationID, License: info}, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if lk.MaxActivations != nil {
		count, err := s.repo.CountActivations(lk.ID)
		if err != nil {
			return nil, err
		}
		if count >= int64(*lk.MaxActivations) {
			return &ActivateResult{Success: false, Reason: reasonActivationCap}, nil
		}
	}

	act := &models.LicenseActivation{
		LicenseKeyID: lk.ID,
		ActivationID: uuid.NewString(),
		DeviceID:     device,
		DeviceName:   strings.TrimSpace(deviceName),
	}
	if err := s.repo.CreateActivation(act); err != nil {
		return nil, err
	}

	info, err := s.licenseInfo(lk)
	if err != nil {
		return nil, err
	}
	return &ActivateResult{Success: true, ActivationID: act.ActivationID, License: info}, nil
}

// Deactivate releases a device activation slot.
func (s *Service) Deactivate(ctx context.Context, licenseKey, activationID string) (bool, string, error) {
	_ = ctx
	key := strings.TrimSpace(licenseKey)
	if key == "" {
		return false, reasonMissingLicense, nil
	}

	lk, err := s.repo.GetLicenseByKey(key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, reasonNotFound, nil
		}
		return false, "", err
	}

	deleted, err := s.repo.DeleteActivation(lk.ID, strings.TrimSpace(activationID))
	if err != nil {
		return false, "", err
	}
	if deleted == 0 {
		return false, reasonNoActivation, nil
	}
	return true, "", nil
}

// checkKey resolves the key and applies the status, expiry and entitlement
// gates shared by Validate and Activate. A non-empty reason means the key is
// not usable.
func (s *Service) checkKey(ctx context.Context, key string) (*models.LicenseKey, string, error) {
	lk, err := s.repo.GetLicenseByKey(key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, reasonNotFound, nil
		}
		return nil, "", err
	}

	if lk.Status == models.LicenseStatusRevoked {
		return nil, reasonRevoked, nil
	}
	if lk.ExpiresAt != nil && time.Now().After(*lk.ExpiresAt) {
		return nil, reasonExpired, nil
	}

	ent, err := s.store.Get(ctx, lk.UserID)
	if err != nil {
		return nil, "", err
	}
	if !ent.Active {
		return nil, reasonInactive, nil
	}
	return lk, "", nil
}

func (s *Service) licenseInfo(lk *models.LicenseKey) (*LicenseInfo, error) {
	count, err := s.repo.CountActivations(lk.ID)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.GetUser(lk.UserID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	info := &LicenseInfo{
		ID:               "lic_" + strconv.FormatUint(uint64(lk.ID), 10),
		Key:              lk.Key,
		DisplayKey:       lk.DisplayKey(),
		Status:           lk.Status,
		ActivationsCount: int(count),
		MaxActivations:   lk.MaxActivations,
		Usage:            lk.Usage,
		MaxUsage:         lk.MaxUsage,
		Validations:      lk.Validations,
		CreatedAt:        lk.CreatedAt.UTC().Format(time.RFC3339),
		BenefitID:        lk.BenefitID,
	}
	if lk.ExpiresAt != nil {
		exp := lk.ExpiresAt.UTC().Format(time.RFC3339)
		info.ExpiresAt = &exp
	}
	if user != nil {
		info.Email = user.Email
		if user.Name != "" {
			name := user.Name
			info.CustomerName = &name
		}
	}
	if acct, err := s.repo.GetBillingAccountByUser(lk.UserID); err == nil {
		info.CustomerID = acct.ProviderCustomerID
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return info, nil
}
