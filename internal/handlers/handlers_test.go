package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/otcheredev/usg-registry/internal/access"
	"github.com/otcheredev/usg-registry/internal/auth"
	"github.com/otcheredev/usg-registry/internal/cache"
	"github.com/otcheredev/usg-registry/internal/models"
	"github.com/otcheredev/usg-registry/internal/repository"
	"github.com/otcheredev/usg-registry/internal/services"
	"github.com/otcheredev/usg-registry/internal/testutil"
)

const (
	jwtSecret  = "handlers-test-secret-with-enough-length-000"
	cookieName = "sb-access-token"
)

type HandlersTestSuite struct {
	suite.Suite
	db      *gorm.DB
	router  http.Handler
	revoked *cache.MemoryCache

	clinicA *models.Tenant
	clinicB *models.Tenant
	ownerA  uuid.UUID
	staffA  uuid.UUID
	ownerB  uuid.UUID
}

func TestHandlersTestSuite(t *testing.T) {
	suite.Run(t, new(HandlersTestSuite))
}

func (suite *HandlersTestSuite) SetupTest() {
	t := suite.T()
	suite.db = testutil.NewDB(t)
	suite.revoked = cache.NewMemoryCache()
	t.Cleanup(func() { _ = suite.revoked.Close() })

	sessions := auth.NewJWTSessionProvider(auth.SessionConfig{
		Secret:     jwtSecret,
		Audience:   "authenticated",
		CookieName: cookieName,
	}, suite.revoked)

	profileSvc := services.NewProfileService(repository.NewProfileRepository(suite.db), time.Second)
	patientSvc := services.NewPatientService(
		repository.NewPatientRepository(suite.db),
		repository.NewAuditRepository(suite.db),
		services.PatientServiceConfig{RPOCPattern: "%w%d", PageSize: 40, StoreTimeout: time.Second},
	)

	gate := access.NewGate(access.Config{
		ProtectedPrefixes: []string{"/dashboard", "/patients", "/add-form", "/update_record", "/api/v1"},
		LoginPath:         "/auth/login",
		SetupPath:         "/auth/setup",
		Timeout:           time.Second,
	}, sessions, profileSvc)

	validate := NewValidator()
	suite.router = NewRouter(RouterConfig{
		Gate:     gate,
		Health:   NewHealthHandler(suite.db, suite.revoked),
		Auth:     NewAuthHandler(auth.NewService(auth.NewIdentityClient("http://127.0.0.1:1", ""), sessions), validate, AuthHandlerConfig{CookieName: cookieName, LoginPath: "/auth/login"}),
		Patients: NewPatientHandler(patientSvc, validate),
		Profiles: NewProfileHandler(profileSvc, patientSvc, validate),
		Audit:    NewAuditHandler(patientSvc),
	})

	suite.clinicA = testutil.SeedTenant(t, suite.db, "clinic-a", models.StatusActive)
	suite.clinicB = testutil.SeedTenant(t, suite.db, "clinic-b", models.StatusActive)
	suite.ownerA = uuid.New()
	suite.staffA = uuid.New()
	suite.ownerB = uuid.New()
	testutil.SeedProfile(t, suite.db, suite.ownerA, suite.clinicA.ID, models.RoleOwner, true)
	testutil.SeedProfile(t, suite.db, suite.staffA, suite.clinicA.ID, models.RoleStaff, true)
	testutil.SeedProfile(t, suite.db, suite.ownerB, suite.clinicB.ID, models.RoleOwner, true)
}

func (suite *HandlersTestSuite) token(userID uuid.UUID) string {
	now := time.Now()
	claims := &auth.Claims{
		SessionID: uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	suite.Require().NoError(err)
	return signed
}

func (suite *HandlersTestSuite) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var payload bytes.Buffer
	if body != nil {
		suite.Require().NoError(json.NewEncoder(&payload).Encode(body))
	}

	r := httptest.NewRequest(method, path, &payload)
	r.Header.Set("Content-Type", "application/json")
	if token != "" {
		r.AddCookie(&http.Cookie{Name: cookieName, Value: token})
	}

	rec := httptest.NewRecorder()
	suite.router.ServeHTTP(rec, r)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func patientBody(id int64, usg string) map[string]any {
	return map[string]any{
		"patient_id":                id,
		"date_of_usg":               usg,
		"patient_name":              "Meera",
		"husband_name":              "Ravi",
		"patient_age":               27,
		"number_of_male_children":   0,
		"number_of_female_children": 1,
		"gestational_age":           "9w2d",
	}
}

func (suite *HandlersTestSuite) TestNoSessionRedirectsToLogin() {
	for _, path := range []string{"/patients", "/dashboard", "/api/v1/me"} {
		rec := suite.do(http.MethodGet, path, "", nil)
		suite.Equal(http.StatusSeeOther, rec.Code, path)
		suite.Equal("/auth/login", rec.Header().Get("Location"), path)
	}

	rec := suite.do(http.MethodPost, "/add-form", "", patientBody(1, "2024-01-01"))
	suite.Equal(http.StatusSeeOther, rec.Code)

	var count int64
	suite.Require().NoError(suite.db.Model(&models.Patient{}).Count(&count).Error)
	suite.Zero(count)
}

func (suite *HandlersTestSuite) TestOpenPathPassesThrough() {
	rec := suite.do(http.MethodGet, "/about", "", nil)
	suite.Equal(http.StatusNotFound, rec.Code)
	suite.Empty(rec.Header().Get("Location"))

	rec = suite.do(http.MethodGet, "/ready", "", nil)
	suite.Equal(http.StatusOK, rec.Code)
}

func (suite *HandlersTestSuite) TestRedirectTargetsAreServed() {
	for _, path := range []string{"/auth/login", "/auth/setup"} {
		rec := suite.do(http.MethodGet, path, "", nil)
		suite.Require().Equal(http.StatusOK, rec.Code, path)
		suite.NotEmpty(decode[nextStepResponse](suite.T(), rec).Next, path)
	}

	rec := suite.do(http.MethodGet, "/dashboard", suite.token(uuid.New()), nil)
	suite.Require().Equal(http.StatusSeeOther, rec.Code)
	rec = suite.do(http.MethodGet, rec.Header().Get("Location"), suite.token(uuid.New()), nil)
	suite.Equal(http.StatusOK, rec.Code)
}

func (suite *HandlersTestSuite) TestUnboundUserRedirectsToSetup() {
	rec := suite.do(http.MethodGet, "/dashboard", suite.token(uuid.New()), nil)
	suite.Equal(http.StatusSeeOther, rec.Code)
	suite.Equal("/auth/setup", rec.Header().Get("Location"))
}

func (suite *HandlersTestSuite) TestDuplicateActiveProfilesIsServerError() {
	userID := uuid.New()
	testutil.SeedProfile(suite.T(), suite.db, userID, suite.clinicA.ID, models.RoleDoctor, true)
	testutil.SeedProfile(suite.T(), suite.db, userID, suite.clinicB.ID, models.RoleDoctor, true)

	rec := suite.do(http.MethodGet, "/dashboard", suite.token(userID), nil)
	suite.Equal(http.StatusInternalServerError, rec.Code)
	suite.Empty(rec.Header().Get("Location"))
	suite.NotContains(rec.Body.String(), userID.String())
}

func (suite *HandlersTestSuite) TestMeReturnsBoundTenant() {
	rec := suite.do(http.MethodGet, "/api/v1/me", suite.token(suite.ownerA), nil)
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	me := decode[meResponse](suite.T(), rec)
	suite.Equal(suite.ownerA, me.UserID)
	suite.Equal(suite.clinicA.ID, me.Tenant.ID)
	suite.Equal(models.RoleOwner, me.Profile.Role)
}

func (suite *HandlersTestSuite) TestCreateIgnoresPayloadTenant() {
	body := patientBody(1, "2024-01-10")
	body["tenant_id"] = suite.clinicB.ID.String()

	rec := suite.do(http.MethodPost, "/add-form", suite.token(suite.staffA), body)
	suite.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	created := decode[models.Patient](suite.T(), rec)
	suite.Equal(suite.clinicA.ID, created.TenantID)

	rec = suite.do(http.MethodGet, "/patients/1", suite.token(suite.ownerB), nil)
	suite.Equal(http.StatusNotFound, rec.Code)

	rec = suite.do(http.MethodGet, "/patients/1", suite.token(suite.ownerA), nil)
	suite.Equal(http.StatusOK, rec.Code)
}

func (suite *HandlersTestSuite) TestCreateValidation() {
	body := patientBody(0, "10/01/2024")
	rec := suite.do(http.MethodPost, "/add-form", suite.token(suite.staffA), body)
	suite.Equal(http.StatusBadRequest, rec.Code)

	resp := decode[errorResponse](suite.T(), rec)
	suite.Contains(resp.Error, "patient_id")
	suite.Contains(resp.Error, "date_of_usg")
}

func (suite *HandlersTestSuite) TestCreateDuplicateIsConflict() {
	token := suite.token(suite.staffA)
	suite.Require().Equal(http.StatusCreated, suite.do(http.MethodPost, "/add-form", token, patientBody(5, "2024-01-10")).Code)

	rec := suite.do(http.MethodPost, "/add-form", token, patientBody(5, "2024-01-11"))
	suite.Equal(http.StatusConflict, rec.Code)
}

func (suite *HandlersTestSuite) TestUpdateAcrossTenantsIsNotFound() {
	testutil.SeedPatient(suite.T(), suite.db, suite.clinicB.ID, 3, "2024-01-05", 0, 1, "")

	rec := suite.do(http.MethodPost, "/update_record/3", suite.token(suite.ownerA), patientBody(3, "2024-01-05"))
	suite.Equal(http.StatusNotFound, rec.Code)

	var stored models.Patient
	suite.Require().NoError(suite.db.Where("tenant_id = ? AND patient_id = ?", suite.clinicB.ID, 3).Take(&stored).Error)
	suite.NotEqual("Meera", stored.PatientName)
}

func (suite *HandlersTestSuite) TestUpdateChangesID() {
	testutil.SeedPatient(suite.T(), suite.db, suite.clinicA.ID, 3, "2024-01-05", 0, 1, "")

	rec := suite.do(http.MethodPost, "/update_record/3", suite.token(suite.staffA), patientBody(30, "2024-01-06"))
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	suite.Equal(http.StatusNotFound, suite.do(http.MethodGet, "/patients/3", suite.token(suite.staffA), nil).Code)
	suite.Equal(http.StatusOK, suite.do(http.MethodGet, "/patients/30", suite.token(suite.staffA), nil).Code)
}

func (suite *HandlersTestSuite) TestDeleteOnlyTouchesOwnTenant() {
	t := suite.T()
	testutil.SeedPatient(t, suite.db, suite.clinicA.ID, 1, "2024-01-05", 0, 0, "")
	testutil.SeedPatient(t, suite.db, suite.clinicB.ID, 2, "2024-01-05", 0, 0, "")

	rec := suite.do(http.MethodPost, "/patients/delete", suite.token(suite.ownerA), map[string]any{"ids": []int64{1, 2}})
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	suite.Equal(map[string]int64{"deleted": 1}, decode[map[string]int64](t, rec))

	suite.Equal(http.StatusOK, suite.do(http.MethodGet, "/patients/2", suite.token(suite.ownerB), nil).Code)

	rec = suite.do(http.MethodPost, "/patients/delete", suite.token(suite.ownerA), map[string]any{"ids": []int64{}})
	suite.Equal(http.StatusBadRequest, rec.Code)
}

func (suite *HandlersTestSuite) TestFilterFemaleChildrenOnly() {
	t := suite.T()
	testutil.SeedPatient(t, suite.db, suite.clinicA.ID, 1, "2024-01-05", 0, 1, "")
	testutil.SeedPatient(t, suite.db, suite.clinicA.ID, 2, "2024-01-06", 1, 1, "")
	testutil.SeedPatient(t, suite.db, suite.clinicB.ID, 3, "2024-01-07", 0, 1, "")

	rec := suite.do(http.MethodGet, "/patients/filter?kind=Female%20Children&from=2024-01-01&to=2024-01-31", suite.token(suite.ownerA), nil)
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[struct {
		Kind     models.ListFilter `json:"kind"`
		Patients []models.Patient  `json:"patients"`
	}](t, rec)
	suite.Equal(models.FilterFemaleChildrenOnly, resp.Kind)
	suite.Require().Len(resp.Patients, 1)
	suite.Equal(int64(1), resp.Patients[0].PatientID)

	rec = suite.do(http.MethodGet, "/patients/filter?kind=boys&from=2024-01-01&to=2024-01-31", suite.token(suite.ownerA), nil)
	suite.Equal(http.StatusBadRequest, rec.Code)

	rec = suite.do(http.MethodGet, "/patients/filter?kind=full&from=2024-01-01", suite.token(suite.ownerA), nil)
	suite.Equal(http.StatusBadRequest, rec.Code)
}

func (suite *HandlersTestSuite) TestListingAndNextID() {
	t := suite.T()
	token := suite.token(suite.ownerA)

	rec := suite.do(http.MethodGet, "/patients/next-id", token, nil)
	suite.Require().Equal(http.StatusOK, rec.Code)
	suite.Equal(map[string]int64{"next_id": 1}, decode[map[string]int64](t, rec))

	testutil.SeedPatient(t, suite.db, suite.clinicA.ID, 7, "2024-01-05", 0, 0, "")
	testutil.SeedPatient(t, suite.db, suite.clinicA.ID, 8, "2024-01-05", 0, 0, "")
	testutil.SeedPatient(t, suite.db, suite.clinicB.ID, 99, "2024-01-05", 0, 0, "")

	rec = suite.do(http.MethodGet, "/patients/next-id", token, nil)
	suite.Equal(map[string]int64{"next_id": 9}, decode[map[string]int64](t, rec))

	rec = suite.do(http.MethodGet, "/patients?page=1", token, nil)
	suite.Require().Equal(http.StatusOK, rec.Code)
	page := decode[models.PatientPage](t, rec)
	suite.Equal(int64(2), page.Count)
	suite.Equal(int64(8), page.Patients[0].PatientID)

	rec = suite.do(http.MethodGet, "/patients/all?order=asc", token, nil)
	suite.Require().Equal(http.StatusOK, rec.Code)

	rec = suite.do(http.MethodGet, "/patients?page=zero", token, nil)
	suite.Equal(http.StatusBadRequest, rec.Code)
}

func (suite *HandlersTestSuite) TestDashboard() {
	testutil.SeedPatient(suite.T(), suite.db, suite.clinicA.ID, 4, "2024-01-05", 0, 0, "")

	rec := suite.do(http.MethodGet, "/dashboard", suite.token(suite.staffA), nil)
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[dashboardResponse](suite.T(), rec)
	suite.Equal(suite.clinicA.ID, resp.Tenant.ID)
	suite.Equal(int64(1), resp.PatientCount)
	suite.Equal(int64(5), resp.NextID)
}

func (suite *HandlersTestSuite) TestSwitchTenant() {
	body := map[string]any{"tenant_id": suite.clinicB.ID.String()}

	rec := suite.do(http.MethodPost, "/api/v1/profile/tenant", suite.token(suite.staffA), body)
	suite.Equal(http.StatusForbidden, rec.Code)

	rec = suite.do(http.MethodPost, "/api/v1/profile/tenant", suite.token(suite.ownerA), map[string]any{"tenant_id": uuid.NewString()})
	suite.Equal(http.StatusNotFound, rec.Code)

	member := testutil.SeedProfile(suite.T(), suite.db, suite.ownerA, suite.clinicB.ID, models.RoleOwner, false)

	token := suite.token(suite.ownerA)
	rec = suite.do(http.MethodPost, "/api/v1/profile/tenant", token, body)
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	switched := decode[meResponse](suite.T(), rec)
	suite.Equal(suite.clinicB.ID, switched.Tenant.ID)
	suite.Equal(member.ID, switched.Profile.ID)

	// the next request resolves the new binding
	rec = suite.do(http.MethodGet, "/api/v1/me", token, nil)
	suite.Equal(suite.clinicB.ID, decode[meResponse](suite.T(), rec).Tenant.ID)
}

func (suite *HandlersTestSuite) TestSwitchTenantWithoutMembershipIsRefused() {
	testutil.SeedPatient(suite.T(), suite.db, suite.clinicB.ID, 1, "2024-01-05", 0, 1, "")
	token := suite.token(suite.ownerA)

	rec := suite.do(http.MethodPost, "/api/v1/profile/tenant", token, map[string]any{"tenant_id": suite.clinicB.ID.String()})
	suite.Equal(http.StatusForbidden, rec.Code)

	rec = suite.do(http.MethodGet, "/api/v1/me", token, nil)
	suite.Require().Equal(http.StatusOK, rec.Code)
	suite.Equal(suite.clinicA.ID, decode[meResponse](suite.T(), rec).Tenant.ID)

	rec = suite.do(http.MethodGet, "/patients/1", token, nil)
	suite.Equal(http.StatusNotFound, rec.Code)
}

func (suite *HandlersTestSuite) TestAuditTrail() {
	suite.Require().Equal(http.StatusCreated,
		suite.do(http.MethodPost, "/add-form", suite.token(suite.staffA), patientBody(1, "2024-01-10")).Code)

	rec := suite.do(http.MethodGet, "/api/v1/audit", suite.token(suite.staffA), nil)
	suite.Equal(http.StatusForbidden, rec.Code)

	rec = suite.do(http.MethodGet, "/api/v1/audit?limit=10", suite.token(suite.ownerA), nil)
	suite.Require().Equal(http.StatusOK, rec.Code)
	resp := decode[struct {
		Entries []models.AuditLog `json:"entries"`
	}](suite.T(), rec)
	suite.Require().Len(resp.Entries, 1)
	suite.Equal("patient.insert", resp.Entries[0].Action)

	rec = suite.do(http.MethodGet, "/api/v1/audit", suite.token(suite.ownerB), nil)
	suite.Require().Equal(http.StatusOK, rec.Code)
	suite.Empty(decode[struct {
		Entries []models.AuditLog `json:"entries"`
	}](suite.T(), rec).Entries)
}

func (suite *HandlersTestSuite) TestSignOutRevokesSession() {
	token := suite.token(suite.ownerA)
	suite.Require().Equal(http.StatusOK, suite.do(http.MethodGet, "/api/v1/me", token, nil).Code)

	rec := suite.do(http.MethodPost, "/auth/logout", token, nil)
	suite.Equal(http.StatusSeeOther, rec.Code)
	suite.Equal("/auth/login", rec.Header().Get("Location"))

	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	suite.True(cleared)

	rec = suite.do(http.MethodGet, "/api/v1/me", token, nil)
	suite.Equal(http.StatusSeeOther, rec.Code)
	suite.Equal("/auth/login", rec.Header().Get("Location"))
}

func (suite *HandlersTestSuite) TestHealth() {
	rec := suite.do(http.MethodGet, "/health", "", nil)
	suite.Require().Equal(http.StatusOK, rec.Code)

	resp := decode[healthResponse](suite.T(), rec)
	suite.Equal("healthy", resp.Status)
	suite.Equal("healthy", resp.Services["database"])
	suite.Equal("healthy", resp.Services["cache"])
}

func TestNewValidatorUsesJSONNames(t *testing.T) {
	v := NewValidator()
	err := v.Struct(&signUpRequest{Email: "not-an-email", Password: "x"})
	require.Error(t, err)

	msg := formatValidationErrors(err)
	assert.Contains(t, msg, "email is invalid")
	assert.Contains(t, msg, "password must satisfy min=6")
	assert.Contains(t, msg, "tenant_slug is required")
}
