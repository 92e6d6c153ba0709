package repository

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/merendalabs/merenda-api/internal/models"
)

func insertTestVersion(t *testing.T, repos *Repositories, tenantID string, version int, payload map[string]any) *models.ConfigurationVersion {
	t.Helper()
	v := &models.ConfigurationVersion{
		ID:        ulid.Make().String(),
		TenantID:  tenantID,
		Version:   version,
		Payload:   payload,
		CreatedBy: "test-operator",
		CreatedAt: time.Now().UTC(),
	}
	if err := repos.Configuration.CreateVersion(context.Background(), v); err != nil {
		t.Fatalf("failed to insert test version: %v", err)
	}
	return v
}

func TestConfigurationRepository_VersionRoundtrip(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	instID := insertTestInstitution(t, repos, "cfg-inst", "33333333000103")
	tenantID := insertTestTenant(t, repos, instID, "cfg-tenant")

	payload := map[string]any{"max_schools": float64(25), "meals_per_day": float64(3)}
	insertTestVersion(t, repos, tenantID, 1, payload)

	got, err := repos.Configuration.GetVersion(ctx, tenantID, 1)
	if err != nil {
		t.Fatalf("GetVersion() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetVersion() returned nil")
	}
	if got.Payload["max_schools"] != float64(25) {
		t.Errorf("Payload[max_schools] = %v, want 25", got.Payload["max_schools"])
	}
	if got.CreatedBy != "test-operator" {
		t.Errorf("CreatedBy = %s, want test-operator", got.CreatedBy)
	}
}

func TestConfigurationRepository_VersionUniquePerTenant(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	instID := insertTestInstitution(t, repos, "cfg-uniq", "44444444000104")
	tenantID := insertTestTenant(t, repos, instID, "cfg-uniq-tenant")
	otherTenant := insertTestTenant(t, repos, instID, "cfg-other-tenant")

	insertTestVersion(t, repos, tenantID, 1, map[string]any{})

	dup := &models.ConfigurationVersion{
		ID:        ulid.Make().String(),
		TenantID:  tenantID,
		Version:   1,
		Payload:   map[string]any{},
		CreatedBy: "test-operator",
		CreatedAt: time.Now().UTC(),
	}
	err := repos.Configuration.CreateVersion(ctx, dup)
	if !IsUniqueViolation(err) {
		t.Errorf("expected unique violation for duplicate version, got %v", err)
	}

	// The same version number is fine for a different tenant.
	insertTestVersion(t, repos, otherTenant, 1, map[string]any{})
}

func TestConfigurationRepository_GetLatestVersion(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	instID := insertTestInstitution(t, repos, "cfg-latest", "55555555000105")
	tenantID := insertTestTenant(t, repos, instID, "cfg-latest-tenant")

	latest, err := repos.Configuration.GetLatestVersion(ctx, tenantID)
	if err != nil {
		t.Fatalf("GetLatestVersion() error = %v", err)
	}
	if latest != nil {
		t.Errorf("expected nil latest for tenant with no versions, got v%d", latest.Version)
	}

	insertTestVersion(t, repos, tenantID, 1, map[string]any{"a": "1"})
	insertTestVersion(t, repos, tenantID, 2, map[string]any{"a": "2"})
	insertTestVersion(t, repos, tenantID, 3, map[string]any{"a": "3"})

	latest, err = repos.Configuration.GetLatestVersion(ctx, tenantID)
	if err != nil {
		t.Fatalf("GetLatestVersion() error = %v", err)
	}
	if latest == nil || latest.Version != 3 {
		t.Fatalf("latest = %v, want version 3", latest)
	}
	if latest.Payload["a"] != "3" {
		t.Errorf("latest payload = %v, want a=3", latest.Payload)
	}

	count, err := repos.Configuration.CountVersions(ctx, tenantID)
	if err != nil {
		t.Fatalf("CountVersions() error = %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestConfigurationRepository_ListVersionsOrder(t *testing.T) {
	repos := setupTestRepos(t)

	instID := insertTestInstitution(t, repos, "cfg-list", "66666666000106")
	tenantID := insertTestTenant(t, repos, instID, "cfg-list-tenant")

	// Insert out of order; listing is by version number.
	insertTestVersion(t, repos, tenantID, 2, map[string]any{})
	insertTestVersion(t, repos, tenantID, 1, map[string]any{})
	insertTestVersion(t, repos, tenantID, 3, map[string]any{})

	versions, err := repos.Configuration.ListVersions(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("got %d versions, want 3", len(versions))
	}
	for i, v := range versions {
		if v.Version != i+1 {
			t.Errorf("versions[%d].Version = %d, want %d", i, v.Version, i+1)
		}
	}
}

func TestChangeRequestRepository_Lifecycle(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	instID := insertTestInstitution(t, repos, "cr-inst", "77777777000107")
	tenantID := insertTestTenant(t, repos, instID, "cr-tenant")

	req := &models.ConfigurationChangeRequest{
		ID:          ulid.Make().String(),
		TenantID:    tenantID,
		Changes:     map[string]any{"max_schools": float64(50)},
		Description: "raise school limit",
		RequestedBy: "school-admin",
		Status:      models.ChangeRequestStatusPending,
		AutoApply:   true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := repos.ChangeRequest.Create(ctx, req); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repos.ChangeRequest.GetByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetByID() returned nil")
	}
	if got.Status != models.ChangeRequestStatusPending {
		t.Errorf("Status = %s, want pending", got.Status)
	}
	if !got.AutoApply {
		t.Error("AutoApply = false, want true")
	}
	if got.Changes["max_schools"] != float64(50) {
		t.Errorf("Changes = %v, want max_schools=50", got.Changes)
	}

	now := time.Now().UTC()
	applied := 2
	got.Status = models.ChangeRequestStatusApplied
	got.ReviewedBy = "ops"
	got.ReviewedAt = &now
	got.AppliedVersion = &applied
	if err := repos.ChangeRequest.Update(ctx, got); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	updated, err := repos.ChangeRequest.GetByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetByID() after update error = %v", err)
	}
	if updated.Status != models.ChangeRequestStatusApplied {
		t.Errorf("Status = %s, want applied", updated.Status)
	}
	if updated.AppliedVersion == nil || *updated.AppliedVersion != 2 {
		t.Errorf("AppliedVersion = %v, want 2", updated.AppliedVersion)
	}
	if updated.ReviewedBy != "ops" {
		t.Errorf("ReviewedBy = %s, want ops", updated.ReviewedBy)
	}
}

func TestChangeRequestRepository_ListByTenantStatusFilter(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	instID := insertTestInstitution(t, repos, "cr-list", "88888888000108")
	tenantID := insertTestTenant(t, repos, instID, "cr-list-tenant")

	statuses := []models.ChangeRequestStatus{
		models.ChangeRequestStatusPending,
		models.ChangeRequestStatusPending,
		models.ChangeRequestStatusRejected,
	}
	for _, status := range statuses {
		req := &models.ConfigurationChangeRequest{
			ID:          ulid.Make().String(),
			TenantID:    tenantID,
			Changes:     map[string]any{},
			RequestedBy: "school-admin",
			Status:      status,
			CreatedAt:   time.Now().UTC(),
		}
		if err := repos.ChangeRequest.Create(ctx, req); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	pending, err := repos.ChangeRequest.ListByTenant(ctx, tenantID, models.ChangeRequestStatusPending)
	if err != nil {
		t.Fatalf("ListByTenant() error = %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("got %d pending requests, want 2", len(pending))
	}

	all, err := repos.ChangeRequest.ListByTenant(ctx, tenantID, "")
	if err != nil {
		t.Fatalf("ListByTenant(\"\") error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d requests unfiltered, want 3", len(all))
	}
}
