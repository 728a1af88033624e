package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/otcheredev/usg-registry/internal/apperrors"
	"github.com/otcheredev/usg-registry/internal/models"
	"github.com/otcheredev/usg-registry/internal/testutil"
)

func patientIDs(patients []models.Patient) []int64 {
	ids := make([]int64, 0, len(patients))
	for _, p := range patients {
		ids = append(ids, p.PatientID)
	}
	return ids
}

func TestPatientRepository_FindByIDIsScoped(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	t1 := testutil.SeedTenant(t, db, "clinic-a", models.StatusActive)
	t2 := testutil.SeedTenant(t, db, "clinic-b", models.StatusActive)
	testutil.SeedPatient(t, db, t1.ID, 7, "2024-01-10", 0, 1, "12w3d")

	got, err := repo.FindByID(ctx, t1.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, t1.ID, got.TenantID)

	_, err = repo.FindByID(ctx, t2.ID, 7)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPatientRepository_ListOrdersByID(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	t1 := testutil.SeedTenant(t, db, "clinic-a", models.StatusActive)
	t2 := testutil.SeedTenant(t, db, "clinic-b", models.StatusActive)
	testutil.SeedPatient(t, db, t1.ID, 3, "2024-01-10", 1, 0, "")
	testutil.SeedPatient(t, db, t1.ID, 1, "2024-01-11", 1, 0, "")
	testutil.SeedPatient(t, db, t1.ID, 2, "2024-01-12", 1, 0, "")
	testutil.SeedPatient(t, db, t2.ID, 4, "2024-01-12", 1, 0, "")

	asc, err := repo.List(ctx, t1.ID, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, patientIDs(asc))

	desc, err := repo.List(ctx, t1.ID, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 1}, patientIDs(desc))
}

func TestPatientRepository_ListPage(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	t1 := testutil.SeedTenant(t, db, "clinic-a", models.StatusActive)
	for id := int64(1); id <= 5; id++ {
		testutil.SeedPatient(t, db, t1.ID, id, "2024-02-01", 0, 0, "")
	}

	page, count, err := repo.ListPage(ctx, t1.ID, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
	assert.Equal(t, []int64{3, 2}, patientIDs(page))
}

func TestPatientRepository_ListFiltered(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	t1 := testutil.SeedTenant(t, db, "clinic-a", models.StatusActive)
	t2 := testutil.SeedTenant(t, db, "clinic-b", models.StatusActive)

	testutil.SeedPatient(t, db, t1.ID, 1, "2024-01-01", 0, 2, "10w2d")   // match, lower bound
	testutil.SeedPatient(t, db, t1.ID, 2, "2024-01-15", 1, 1, "11w")     // has a boy
	testutil.SeedPatient(t, db, t1.ID, 3, "2024-01-31", 0, 1, "8 weeks") // match, upper bound
	testutil.SeedPatient(t, db, t1.ID, 4, "2024-02-01", 0, 1, "9W1D")    // out of range
	testutil.SeedPatient(t, db, t1.ID, 5, "2024-01-20", 0, 0, "")        // no children
	testutil.SeedPatient(t, db, t2.ID, 6, "2024-01-20", 0, 3, "7w0d")    // other tenant

	q := models.PatientQuery{
		Filter: models.FilterFemaleChildrenOnly,
		From:   testutil.Date(t, "2024-01-01"),
		To:     testutil.Date(t, "2024-01-31"),
	}

	t.Run("female children only", func(t *testing.T) {
		got, err := repo.ListFiltered(ctx, t1.ID, q)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 3}, patientIDs(got))
		for _, p := range got {
			assert.Equal(t, t1.ID, p.TenantID)
			assert.Zero(t, p.NumberOfMaleChildren)
			assert.Positive(t, p.NumberOfFemaleChildren)
		}
	})

	t.Run("full", func(t *testing.T) {
		full := q
		full.Filter = models.FilterFull
		got, err := repo.ListFiltered(ctx, t1.ID, full)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3, 5}, patientIDs(got))
	})

	t.Run("rpoc flagged", func(t *testing.T) {
		rpoc := q
		rpoc.Filter = models.FilterRPOCFlagged
		rpoc.To = testutil.Date(t, "2024-02-29")
		rpoc.GAPattern = "%w%d"
		got, err := repo.ListFiltered(ctx, t1.ID, rpoc)
		require.NoError(t, err)
		// 10w2d and 9W1D carry weeks and days
		assert.Equal(t, []int64{2, 3, 5}, patientIDs(got))
	})

	t.Run("rpoc without pattern", func(t *testing.T) {
		rpoc := q
		rpoc.Filter = models.FilterRPOCFlagged
		_, err := repo.ListFiltered(ctx, t1.ID, rpoc)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("unknown filter", func(t *testing.T) {
		bad := q
		bad.Filter = "boys"
		_, err := repo.ListFiltered(ctx, t1.ID, bad)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})
}

func TestPatientRepository_CreateForcesTenant(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	t1 := testutil.SeedTenant(t, db, "clinic-a", models.StatusActive)
	t2 := testutil.SeedTenant(t, db, "clinic-b", models.StatusActive)

	forged := &models.Patient{
		TenantID:    t2.ID,
		PatientID:   1,
		DateOfUSG:   testutil.Date(t, "2024-03-01"),
		PatientName: "Forged",
	}
	require.NoError(t, repo.Create(ctx, t1.ID, forged))
	assert.Equal(t, t1.ID, forged.TenantID)

	_, err := repo.FindByID(ctx, t2.ID, 1)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	stored, err := repo.FindByID(ctx, t1.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "Forged", stored.PatientName)

	// the same id is free in another tenant
	require.NoError(t, repo.Create(ctx, t2.ID, &models.Patient{PatientID: 1, DateOfUSG: testutil.Date(t, "2024-03-01"), PatientName: "B"}))

	err = repo.Create(ctx, t1.ID, &models.Patient{PatientID: 1, DateOfUSG: testutil.Date(t, "2024-03-01"), PatientName: "dup"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestPatientRepository_UniqueViolationIsConflict(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	t1 := testutil.SeedTenant(t, db, "clinic-a", models.StatusActive)
	existing := testutil.SeedPatient(t, db, t1.ID, 4, "2024-01-05", 0, 0, "")

	t.Run("primary key", func(t *testing.T) {
		dup := *existing
		err := db.Create(&dup).Error
		require.ErrorIs(t, err, gorm.ErrDuplicatedKey)

		classified := classify("create patient", err)
		assert.ErrorIs(t, classified, apperrors.ErrConflict)
		assert.NotErrorIs(t, classified, apperrors.ErrUpstreamUnavailable)
		assert.Equal(t, 409, apperrors.HTTPStatus(classified))
	})

	t.Run("competing insert after the id check", func(t *testing.T) {
		inserted := false
		require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:competing_insert", func(tx *gorm.DB) {
			if inserted {
				return
			}
			inserted = true
			competitor := &models.Patient{
				TenantID:    t1.ID,
				PatientID:   5,
				DateOfUSG:   testutil.Date(t, "2024-01-06"),
				PatientName: "Competitor",
			}
			_ = tx.AddError(tx.Session(&gorm.Session{NewDB: true}).Create(competitor).Error)
		}))

		err := repo.Create(ctx, t1.ID, &models.Patient{
			PatientID:   5,
			DateOfUSG:   testutil.Date(t, "2024-01-06"),
			PatientName: "Late",
		})
		require.True(t, inserted)
		assert.ErrorIs(t, err, apperrors.ErrConflict)
		assert.NotErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
	})
}

func TestPatientRepository_UpdateIsolation(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	t1 := testutil.SeedTenant(t, db, "clinic-a", models.StatusActive)
	t2 := testutil.SeedTenant(t, db, "clinic-b", models.StatusActive)
	victim := testutil.SeedPatient(t, db, t2.ID, 9, "2024-01-05", 0, 1, "6w1d")

	err := repo.Update(ctx, t1.ID, 9, &models.Patient{
		PatientID:   9,
		DateOfUSG:   testutil.Date(t, "2024-01-05"),
		PatientName: "Overwritten",
	})
	assert.ErrorIs(t, err, apperrors.ErrScopeViolation)

	untouched, err := repo.FindByID(ctx, t2.ID, 9)
	require.NoError(t, err)
	assert.Equal(t, victim.PatientName, untouched.PatientName)

	var rows int64
	require.NoError(t, db.Model(&models.Patient{}).Where("tenant_id = ?", t1.ID).Count(&rows).Error)
	assert.Zero(t, rows, "update must not insert")
}

func TestPatientRepository_UpdateChangesID(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	t1 := testutil.SeedTenant(t, db, "clinic-a", models.StatusActive)
	testutil.SeedPatient(t, db, t1.ID, 1, "2024-01-05", 0, 1, "6w1d")
	testutil.SeedPatient(t, db, t1.ID, 2, "2024-01-06", 0, 1, "6w1d")

	edited := &models.Patient{
		PatientID:   10,
		DateOfUSG:   testutil.Date(t, "2024-01-07"),
		PatientName: "Renumbered",
	}
	require.NoError(t, repo.Update(ctx, t1.ID, 1, edited))
	assert.Equal(t, t1.ID, edited.TenantID)

	_, err := repo.FindByID(ctx, t1.ID, 1)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	moved, err := repo.FindByID(ctx, t1.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, "Renumbered", moved.PatientName)
	assert.True(t, testutil.Date(t, "2024-01-07").Equal(moved.DateOfUSG))

	err = repo.Update(ctx, t1.ID, 10, &models.Patient{PatientID: 2, DateOfUSG: edited.DateOfUSG, PatientName: "clash"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	kept, err := repo.FindByID(ctx, t1.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, "Renumbered", kept.PatientName)
}

func TestPatientRepository_DeleteSkipsOtherTenants(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	t1 := testutil.SeedTenant(t, db, "clinic-a", models.StatusActive)
	t2 := testutil.SeedTenant(t, db, "clinic-b", models.StatusActive)
	testutil.SeedPatient(t, db, t1.ID, 1, "2024-01-05", 0, 0, "")
	testutil.SeedPatient(t, db, t1.ID, 2, "2024-01-05", 0, 0, "")
	testutil.SeedPatient(t, db, t2.ID, 3, "2024-01-05", 0, 0, "")
	testutil.SeedPatient(t, db, t2.ID, 1, "2024-01-05", 0, 0, "")

	deleted, err := repo.Delete(ctx, t1.ID, []int64{1, 3})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := repo.List(ctx, t1.ID, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, patientIDs(remaining))

	other, err := repo.List(ctx, t2.ID, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, patientIDs(other))

	deleted, err = repo.Delete(ctx, t1.ID, nil)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestPatientRepository_MaxID(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	t1 := testutil.SeedTenant(t, db, "clinic-a", models.StatusActive)
	t2 := testutil.SeedTenant(t, db, "clinic-b", models.StatusActive)
	testutil.SeedPatient(t, db, t2.ID, 500, "2024-01-05", 0, 0, "")

	_, ok, err := repo.MaxID(ctx, t1.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	testutil.SeedPatient(t, db, t1.ID, 4, "2024-01-05", 0, 0, "")
	testutil.SeedPatient(t, db, t1.ID, 11, "2024-01-05", 0, 0, "")

	id, ok, err := repo.MaxID(ctx, t1.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(11), id)
}

func TestPatientRepository_StoreFailureIsUpstream(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewPatientRepository(db)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = repo.List(context.Background(), uuid.New(), true)
	assert.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
}
