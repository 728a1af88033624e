package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SubscriptionPlan is the commercial plan a clinic is on
type SubscriptionPlan string

const (
	PlanBasic        SubscriptionPlan = "basic"
	PlanProfessional SubscriptionPlan = "professional"
	PlanEnterprise   SubscriptionPlan = "enterprise"
	PlanChain        SubscriptionPlan = "chain"
)

// SubscriptionStatus is informational for authorization unless configured
// as denied on the gate.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusInactive  SubscriptionStatus = "inactive"
	StatusSuspended SubscriptionStatus = "suspended"
	StatusTrial     SubscriptionStatus = "trial"
)

// Valid reports whether s is a known subscription status
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended, StatusTrial:
		return true
	}
	return false
}

// Tenant represents a tenant (clinic)
type Tenant struct {
	ID                 uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	Name               string             `gorm:"type:varchar(255);not null" json:"name"`
	Slug               string             `gorm:"type:varchar(100);uniqueIndex;not null" json:"slug"`
	Address            string             `gorm:"type:text" json:"address,omitempty"`
	Phone              string             `gorm:"type:varchar(30)" json:"phone,omitempty"`
	Email              string             `gorm:"type:varchar(255)" json:"email,omitempty"`
	LicenseNumber      string             `gorm:"type:varchar(100)" json:"license_number,omitempty"`
	PCPNDTRegistration string             `gorm:"column:pcpndt_registration;type:varchar(100)" json:"pcpndt_registration,omitempty"`
	SubscriptionPlan   SubscriptionPlan   `gorm:"type:varchar(20);not null;default:basic" json:"subscription_plan"`
	SubscriptionStatus SubscriptionStatus `gorm:"type:varchar(20);not null;default:trial" json:"subscription_status"`
	TrialEndsAt        *time.Time         `json:"trial_ends_at,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// TableName overrides the table name
func (Tenant) TableName() string {
	return "tenants"
}

// BeforeCreate hook
func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Role is a user's role inside a tenant
type Role string

const (
	RoleOwner        Role = "owner"
	RoleAdmin        Role = "admin"
	RoleDoctor       Role = "doctor"
	RoleTechnician   Role = "technician"
	RoleReceptionist Role = "receptionist"
	RoleStaff        Role = "staff"
)

// CanManageTenant reports whether the role may read tenant-level security data
func (r Role) CanManageTenant() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Profile is one user's membership in one tenant. At most one profile per
// user may be active.
type Profile struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Role      Role      `gorm:"type:varchar(20);not null;default:staff" json:"role"`
	FullName  string    `gorm:"type:varchar(255)" json:"full_name,omitempty"`
	Phone     string    `gorm:"type:varchar(30)" json:"phone,omitempty"`
	IsActive  bool      `gorm:"not null;default:false;index" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Tenant *Tenant `gorm:"foreignKey:TenantID" json:"tenant,omitempty"`
}

// TableName overrides the table name
func (Profile) TableName() string {
	return "user_profiles"
}

// BeforeCreate hook
func (p *Profile) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Session is a verified identity read from request credentials. It is never
// minted or stored by this service.
type Session struct {
	Token     string    `json:"-"`
	SessionID string    `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthContext is the per-request bundle built by the access gate
type AuthContext struct {
	Session Session `json:"session"`
	Profile Profile `json:"profile"`
	Tenant  Tenant  `json:"tenant"`
}

// TenantID returns the tenant every data operation must be scoped to
func (a *AuthContext) TenantID() uuid.UUID {
	return a.Tenant.ID
}

// UserID returns the authenticated subject
func (a *AuthContext) UserID() uuid.UUID {
	return a.Session.UserID
}
