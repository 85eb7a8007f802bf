package models

import (
	"strings"
	"time"
)

const (
	LicenseStatusGranted = "granted"
	LicenseStatusRevoked = "revoked"
)

// LicenseKey is a desktop-client license issued against a paid benefit. The
// key itself is opaque; clients only ever see the masked DisplayKey after
// the initial purchase email.
type LicenseKey struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"not null;index" json:"user_id"`
	Key            string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"-"`
	BenefitID      string     `gorm:"type:varchar(191);not null;default:''" json:"benefit_id"`
	Status         string     `gorm:"type:varchar(32);not null;default:'granted';index" json:"status"`
	MaxActivations *int       `gorm:"default:null" json:"max_activations,omitempty"`
	Usage          int        `gorm:"not null;default:0" json:"usage"`
	MaxUsage       *int       `gorm:"default:null" json:"max_usage,omitempty"`
	Validations    int        `gorm:"not null;default:0" json:"validations"`
	ExpiresAt      *time.Time `gorm:"type:timestamp;default:null" json:"expires_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Activations []LicenseActivation `gorm:"foreignKey:LicenseKeyID" json:"-"`
}

// DisplayKey masks all but the last segment of the key for UI/API responses.
func (l *LicenseKey) DisplayKey() string {
	parts := strings.Split(l.Key, "-")
	if len(parts) < 2 {
		return "****"
	}
	masked := make([]string, len(parts))
	for i := range parts {
		masked[i] = "****"
	}
	masked[len(masked)-1] = parts[len(parts)-1]
	return strings.Join(masked, "-")
}

// LicenseActivation records one device activation of a license key.
type LicenseActivation struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	LicenseKeyID uint      `gorm:"not null;index:ux_license_activations_key_device,unique,priority:1" json:"license_key_id"`
	ActivationID string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"activation_id"`
	DeviceID     string    `gorm:"type:varchar(191);not null;index:ux_license_activations_key_device,unique,priority:2" json:"device_id"`
	DeviceName   string    `gorm:"type:varchar(191);default:''" json:"device_name"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}
