// Package testutil provides fixtures shared by package tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/otcheredev/usg-registry/internal/database"
	"github.com/otcheredev/usg-registry/internal/models"
)

// NewDB opens a migrated in-memory SQLite database. A single connection keeps
// every statement on the same memory database.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), database.GormConfig("silent"))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.AutoMigrate(db))

	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// SeedTenant inserts a tenant
func SeedTenant(t *testing.T, db *gorm.DB, name string, status models.SubscriptionStatus) *models.Tenant {
	t.Helper()

	tenant := &models.Tenant{
		Name:               name,
		Slug:               name + "-" + uuid.NewString()[:8],
		SubscriptionPlan:   models.PlanBasic,
		SubscriptionStatus: status,
	}
	require.NoError(t, db.WithContext(context.Background()).Create(tenant).Error)
	return tenant
}

// SeedProfile inserts a profile for userID in tenantID
func SeedProfile(t *testing.T, db *gorm.DB, userID, tenantID uuid.UUID, role models.Role, active bool) *models.Profile {
	t.Helper()

	profile := &models.Profile{
		UserID:   userID,
		TenantID: tenantID,
		Role:     role,
		IsActive: active,
	}
	require.NoError(t, db.Create(profile).Error)
	return profile
}

// Date parses a YYYY-MM-DD date in UTC
func Date(t *testing.T, s string) time.Time {
	t.Helper()

	d, err := time.Parse(models.DateLayout, s)
	require.NoError(t, err)
	return d
}

// SeedPatient inserts a record directly, bypassing the tenant-scoped layer
func SeedPatient(t *testing.T, db *gorm.DB, tenantID uuid.UUID, id int64, usg string, male, female int, ga string) *models.Patient {
	t.Helper()

	p := &models.Patient{
		TenantID:               tenantID,
		PatientID:              id,
		DateOfUSG:              Date(t, usg),
		PatientName:            "Patient " + uuid.NewString()[:6],
		NumberOfMaleChildren:   male,
		NumberOfFemaleChildren: female,
		GestationalAge:         ga,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}
