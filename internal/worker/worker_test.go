package worker

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/merendalabs/merenda-api/internal/config"
	"github.com/merendalabs/merenda-api/internal/database/migrations"
	"github.com/merendalabs/merenda-api/internal/models"
	"github.com/merendalabs/merenda-api/internal/repository"
	"github.com/merendalabs/merenda-api/internal/service"
)

func TestNew_Defaults(t *testing.T) {
	w := New(nil, Config{}, nil)
	if w == nil {
		t.Fatal("expected worker, got nil")
	}
	if w.pollInterval != 30*time.Second {
		t.Errorf("pollInterval = %v, want 30s (default)", w.pollInterval)
	}
	if w.gracePeriod != 5*time.Minute {
		t.Errorf("gracePeriod = %v, want 5m (default)", w.gracePeriod)
	}
	if w.logger == nil {
		t.Error("logger should be set to default")
	}
}

func TestNew_CustomConfig(t *testing.T) {
	w := New(nil, Config{PollInterval: 10 * time.Second, ShutdownGracePeriod: time.Minute}, slog.Default())
	if w.pollInterval != 10*time.Second {
		t.Errorf("pollInterval = %v, want 10s", w.pollInterval)
	}
	if w.gracePeriod != time.Minute {
		t.Errorf("gracePeriod = %v, want 1m", w.gracePeriod)
	}
}

func TestWorker_StopHonorsGracePeriod(t *testing.T) {
	_, provisioningSvc := setupProvisioning(t)

	w := New(provisioningSvc, Config{
		PollInterval:        10 * time.Millisecond,
		ShutdownGracePeriod: time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.Start(context.Background())
	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	w.Stop()
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Stop() took %v with an idle worker, want prompt return", elapsed)
	}
}

func setupProvisioning(t *testing.T) (*repository.Repositories, *service.ProvisioningService) {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}
	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run bootstrap migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repos := repository.NewRepositories(db)
	svcs, err := service.NewServices(&config.Config{}, repos, logger)
	if err != nil {
		t.Fatalf("failed to create services: %v", err)
	}
	return repos, svcs.Provisioning
}

func TestWorker_ExecutesDueSchedule(t *testing.T) {
	repos, provisioningSvc := setupProvisioning(t)
	ctx := context.Background()
	now := time.Now().UTC()

	inst := &models.Institution{
		ID:        ulid.Make().String(),
		Name:      "Prefeitura Teste",
		Slug:      "prefeitura-teste",
		CNPJ:      "12345678000190",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repos.Directory.CreateInstitution(ctx, inst); err != nil {
		t.Fatalf("failed to create institution: %v", err)
	}
	tenant := &models.Tenant{
		ID:            ulid.Make().String(),
		InstitutionID: inst.ID,
		Name:          "Rede Teste",
		Slug:          "rede-teste",
		Status:        models.TenantStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := repos.Directory.CreateTenant(ctx, tenant); err != nil {
		t.Fatalf("failed to create tenant: %v", err)
	}

	schedule := &models.DeprovisionSchedule{
		ID:           ulid.Make().String(),
		TenantID:     tenant.ID,
		ScheduledFor: now.Add(-time.Minute),
		Status:       models.ScheduleStatusScheduled,
		CreatedBy:    "ops",
		CreatedAt:    now,
	}
	if err := repos.Schedule.Create(ctx, schedule); err != nil {
		t.Fatalf("failed to create schedule: %v", err)
	}

	w := New(provisioningSvc, Config{PollInterval: 20 * time.Millisecond},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := repos.Directory.GetTenant(ctx, tenant.ID)
		if err != nil {
			t.Fatalf("GetTenant() error = %v", err)
		}
		if got == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	w.Stop()

	got, err := repos.Directory.GetTenant(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("GetTenant() error = %v", err)
	}
	if got != nil {
		t.Error("tenant still exists; worker did not execute the due schedule")
	}

	claimed, err := repos.Schedule.GetByID(ctx, schedule.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if claimed.Status != models.ScheduleStatusExecuted {
		t.Errorf("schedule status = %s, want executed", claimed.Status)
	}
}

func TestWorker_StopIsIdempotentAcrossContextCancel(t *testing.T) {
	_, provisioningSvc := setupProvisioning(t)

	w := New(provisioningSvc, Config{PollInterval: 10 * time.Millisecond},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() did not return after context cancellation")
	}
}
