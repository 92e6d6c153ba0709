package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/merendalabs/merenda-api/internal/models"
	"github.com/merendalabs/merenda-api/internal/repository"
)

// MigrationService is the migration store and executor: it owns migration
// definitions and their per-scope execution records, and runs up/down scripts
// in dependency order. Each script runs in its own transaction; bookkeeping
// transitions are persisted before errors are surfaced so a crash between the
// two leaves the store consistent.
type MigrationService struct {
	repos  *repository.Repositories
	logger *slog.Logger
}

// NewMigrationService creates a new migration service.
func NewMigrationService(repos *repository.Repositories, logger *slog.Logger) *MigrationService {
	return &MigrationService{
		repos:  repos,
		logger: logger.With("component", "migration"),
	}
}

// CreateMigrationInput represents input for creating a migration definition.
type CreateMigrationInput struct {
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	UpScript       string   `json:"up_script"`
	DownScript     string   `json:"down_script"`
	TenantSpecific bool     `json:"tenant_specific"`
	DependsOn      []string `json:"depends_on,omitempty"`
}

// ResultStatus is the per-migration outcome of a run or rollback attempt.
type ResultStatus string

const (
	ResultCompleted  ResultStatus = "completed"
	ResultFailed     ResultStatus = "failed"
	ResultBlocked    ResultStatus = "blocked"
	ResultRolledBack ResultStatus = "rolled_back"
)

// ExecutionResult reports the outcome of one migration attempt. Partial
// success across a chain is reported as a list of these, never collapsed
// into a single boolean.
type ExecutionResult struct {
	MigrationID string       `json:"migration_id"`
	Name        string       `json:"name"`
	Status      ResultStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
	DurationMs  int64        `json:"duration_ms"`
}

// CreateDefinition validates and persists a new migration definition.
// Definitions are immutable; DependsOn entries must reference definitions
// that already exist (no forward references).
func (s *MigrationService) CreateDefinition(ctx context.Context, input CreateMigrationInput) (*models.MigrationDefinition, error) {
	if input.Name == "" {
		return nil, NewValidationError("name", "is required")
	}
	if input.UpScript == "" {
		return nil, NewValidationError("up_script", "is required")
	}
	if input.DownScript == "" {
		return nil, NewValidationError("down_script", "is required")
	}

	for _, dep := range input.DependsOn {
		existing, err := s.repos.Migration.GetDefinition(ctx, dep)
		if err != nil {
			return nil, &InternalError{Op: "lookup dependency", Err: err}
		}
		if existing == nil {
			return nil, NewValidationError("depends_on", fmt.Sprintf("migration %s does not exist", dep))
		}
	}

	existing, err := s.repos.Migration.GetDefinitionByName(ctx, input.Name)
	if err != nil {
		return nil, &InternalError{Op: "lookup definition", Err: err}
	}
	if existing != nil {
		return nil, &ConflictError{Resource: "migration", Key: "name " + input.Name}
	}

	def := &models.MigrationDefinition{
		ID:             ulid.Make().String(),
		Name:           input.Name,
		Description:    input.Description,
		UpScript:       input.UpScript,
		DownScript:     input.DownScript,
		TenantSpecific: input.TenantSpecific,
		DependsOn:      input.DependsOn,
		CreatedAt:      time.Now(),
	}
	if err := s.repos.Migration.CreateDefinition(ctx, def); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, &ConflictError{Resource: "migration", Key: "name " + input.Name}
		}
		return nil, &InternalError{Op: "create definition", Err: err}
	}

	s.logger.Info("migration definition created", "id", def.ID, "name", def.Name, "tenant_specific", def.TenantSpecific)
	return def, nil
}

// ListDefinitions returns all definitions in creation order.
func (s *MigrationService) ListDefinitions(ctx context.Context) ([]*models.MigrationDefinition, error) {
	defs, err := s.repos.Migration.ListDefinitions(ctx)
	if err != nil {
		return nil, &InternalError{Op: "list definitions", Err: err}
	}
	return defs, nil
}

// GetStatus returns all execution records, optionally filtered to one tenant.
// Global executions are always included.
func (s *MigrationService) GetStatus(ctx context.Context, tenantID *string) ([]*models.MigrationExecution, error) {
	execs, err := s.repos.Migration.ListExecutions(ctx, tenantID)
	if err != nil {
		return nil, &InternalError{Op: "list executions", Err: err}
	}
	return execs, nil
}

// RunPending computes the migrations not yet completed for the scope,
// orders them topologically by DependsOn (stable tie-break: definition
// creation order), and executes each in turn. A migration whose dependency
// is not completed reports blocked rather than being attempted; a failure
// blocks its transitive dependents but independent branches continue.
func (s *MigrationService) RunPending(ctx context.Context, tenantID *string) ([]ExecutionResult, error) {
	defs, err := s.applicableDefinitions(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	ordered, err := topoSort(defs)
	if err != nil {
		return nil, err
	}

	completed, err := s.completedSet(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	// Migrations that failed or were blocked in this pass; their dependents
	// report blocked without being attempted.
	broken := make(map[string]bool)

	var results []ExecutionResult
	for _, def := range ordered {
		if completed[def.ID] {
			continue
		}

		if dep, ok := firstUnsatisfiedDep(def, completed, broken); ok {
			broken[def.ID] = true
			results = append(results, ExecutionResult{
				MigrationID: def.ID,
				Name:        def.Name,
				Status:      ResultBlocked,
				Error:       fmt.Sprintf("dependency %s not completed", dep),
			})
			continue
		}

		result := s.execute(ctx, def, s.scopeFor(def, tenantID))
		results = append(results, result)
		if result.Status == ResultCompleted {
			completed[def.ID] = true
		} else {
			broken[def.ID] = true
		}
	}

	return results, nil
}

// RunOne runs a single migration regardless of its queue position, provided
// its dependencies are satisfied.
func (s *MigrationService) RunOne(ctx context.Context, migrationID string, tenantID *string) (*ExecutionResult, error) {
	def, err := s.repos.Migration.GetDefinition(ctx, migrationID)
	if err != nil {
		return nil, &InternalError{Op: "get definition", Err: err}
	}
	if def == nil {
		return nil, &NotFoundError{Resource: "migration", ID: migrationID}
	}

	completed, err := s.completedSet(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, dep := range def.DependsOn {
		if !completed[dep] {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return nil, &DependencyNotSatisfiedError{MigrationID: migrationID, Missing: missing}
	}

	result := s.execute(ctx, def, s.scopeFor(def, tenantID))
	return &result, nil
}

// Rollback executes a completed migration's down script. Rolling back a
// migration that other completed migrations depend on is rejected; the
// cascade is the caller's responsibility so data is never silently lost.
func (s *MigrationService) Rollback(ctx context.Context, migrationID string, tenantID *string) (*ExecutionResult, error) {
	def, err := s.repos.Migration.GetDefinition(ctx, migrationID)
	if err != nil {
		return nil, &InternalError{Op: "get definition", Err: err}
	}
	if def == nil {
		return nil, &NotFoundError{Resource: "migration", ID: migrationID}
	}

	scope := s.scopeFor(def, tenantID)
	exec, err := s.repos.Migration.GetExecution(ctx, migrationID, scope)
	if err != nil {
		return nil, &InternalError{Op: "get execution", Err: err}
	}
	if exec == nil || exec.Status != models.MigrationStatusCompleted {
		status := models.MigrationStatusPending
		if exec != nil {
			status = exec.Status
		}
		return nil, NewValidationError("migration_id",
			fmt.Sprintf("migration is %s; only completed migrations can be rolled back", status))
	}

	dependents, err := s.completedDependents(ctx, def, tenantID)
	if err != nil {
		return nil, err
	}
	if len(dependents) > 0 {
		return nil, &DependentMigrationsExistError{MigrationID: migrationID, Dependents: dependents}
	}

	start := time.Now()
	if err := s.repos.Migration.ExecuteScript(ctx, def.DownScript); err != nil {
		// Keep the completed status: the schema change is still in place.
		exec.ErrorMessage = err.Error()
		if uerr := s.repos.Migration.UpdateExecution(ctx, exec); uerr != nil {
			s.logger.Error("failed to record rollback error", "migration_id", migrationID, "error", uerr)
		}
		return nil, &InternalError{Op: "execute down script", Err: err}
	}

	now := time.Now()
	exec.Status = models.MigrationStatusRolledBack
	exec.ErrorMessage = ""
	exec.CompletedAt = &now
	if err := s.repos.Migration.UpdateExecution(ctx, exec); err != nil {
		return nil, &InternalError{Op: "update execution", Err: err}
	}

	s.logger.Info("migration rolled back", "migration_id", migrationID, "tenant_id", scopeString(scope))
	return &ExecutionResult{
		MigrationID: def.ID,
		Name:        def.Name,
		Status:      ResultRolledBack,
		DurationMs:  time.Since(start).Milliseconds(),
	}, nil
}

// RecoverFailed re-attempts a failed execution from scratch. Partial DDL from
// the failed attempt is the database's problem to report; no statement-level
// resume is attempted.
func (s *MigrationService) RecoverFailed(ctx context.Context, migrationID string, tenantID *string) (*ExecutionResult, error) {
	def, err := s.repos.Migration.GetDefinition(ctx, migrationID)
	if err != nil {
		return nil, &InternalError{Op: "get definition", Err: err}
	}
	if def == nil {
		return nil, &NotFoundError{Resource: "migration", ID: migrationID}
	}

	scope := s.scopeFor(def, tenantID)
	exec, err := s.repos.Migration.GetExecution(ctx, migrationID, scope)
	if err != nil {
		return nil, &InternalError{Op: "get execution", Err: err}
	}
	if exec == nil || exec.Status != models.MigrationStatusFailed {
		status := models.MigrationStatusPending
		if exec != nil {
			status = exec.Status
		}
		return nil, NewValidationError("migration_id",
			fmt.Sprintf("migration is %s; only failed migrations can be recovered", status))
	}

	result := s.execute(ctx, def, scope)
	return &result, nil
}

// ValidateIntegrity checks that execution status is internally consistent
// with the dependency graph: no completed migration may have a dependency
// that is not completed. Returns the list of violations found.
func (s *MigrationService) ValidateIntegrity(ctx context.Context, tenantID *string) (bool, []string, error) {
	defs, err := s.repos.Migration.ListDefinitions(ctx)
	if err != nil {
		return false, nil, &InternalError{Op: "list definitions", Err: err}
	}
	byID := make(map[string]*models.MigrationDefinition, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
	}

	completed, err := s.completedSet(ctx, tenantID)
	if err != nil {
		return false, nil, err
	}

	var issues []string
	for id := range completed {
		def, ok := byID[id]
		if !ok {
			continue
		}
		for _, dep := range def.DependsOn {
			if !completed[dep] {
				issues = append(issues, fmt.Sprintf("migration %s is completed but dependency %s is not", id, dep))
			}
		}
	}
	return len(issues) == 0, issues, nil
}

// execute runs one migration's up script in the given scope, transitioning
// its execution record pending/failed/rolled_back -> running -> completed or
// failed. The status transition is persisted before the error is returned.
func (s *MigrationService) execute(ctx context.Context, def *models.MigrationDefinition, scope *string) ExecutionResult {
	result := ExecutionResult{MigrationID: def.ID, Name: def.Name}

	exec, err := s.repos.Migration.GetExecution(ctx, def.ID, scope)
	if err != nil {
		result.Status = ResultFailed
		result.Error = err.Error()
		return result
	}

	now := time.Now()
	if exec == nil {
		exec = &models.MigrationExecution{
			ID:          ulid.Make().String(),
			MigrationID: def.ID,
			TenantID:    scope,
			Status:      models.MigrationStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repos.Migration.CreateExecution(ctx, exec); err != nil {
			result.Status = ResultFailed
			result.Error = err.Error()
			return result
		}
	}

	if !exec.Status.CanTransition(models.MigrationStatusRunning) {
		result.Status = ResultFailed
		result.Error = fmt.Sprintf("cannot run migration in status %s", exec.Status)
		return result
	}

	exec.Status = models.MigrationStatusRunning
	exec.StartedAt = &now
	exec.CompletedAt = nil
	exec.ErrorMessage = ""
	if err := s.repos.Migration.UpdateExecution(ctx, exec); err != nil {
		result.Status = ResultFailed
		result.Error = err.Error()
		return result
	}

	start := time.Now()
	scriptErr := s.repos.Migration.ExecuteScript(ctx, def.UpScript)
	result.DurationMs = time.Since(start).Milliseconds()

	finished := time.Now()
	exec.CompletedAt = &finished
	if scriptErr != nil {
		exec.Status = models.MigrationStatusFailed
		exec.ErrorMessage = scriptErr.Error()
		result.Status = ResultFailed
		result.Error = scriptErr.Error()
		s.logger.Error("migration failed", "migration_id", def.ID, "tenant_id", scopeString(scope), "error", scriptErr)
	} else {
		exec.Status = models.MigrationStatusCompleted
		result.Status = ResultCompleted
		s.logger.Info("migration completed", "migration_id", def.ID, "name", def.Name, "tenant_id", scopeString(scope))
	}

	if err := s.repos.Migration.UpdateExecution(ctx, exec); err != nil {
		result.Status = ResultFailed
		result.Error = err.Error()
	}
	return result
}

// applicableDefinitions returns the definitions in scope: global ones always,
// tenant-specific ones only when a tenant is targeted.
func (s *MigrationService) applicableDefinitions(ctx context.Context, tenantID *string) ([]*models.MigrationDefinition, error) {
	defs, err := s.repos.Migration.ListDefinitions(ctx)
	if err != nil {
		return nil, &InternalError{Op: "list definitions", Err: err}
	}
	if tenantID == nil {
		var global []*models.MigrationDefinition
		for _, d := range defs {
			if !d.TenantSpecific {
				global = append(global, d)
			}
		}
		return global, nil
	}
	return defs, nil
}

// scopeFor maps a definition to its execution scope: global migrations use a
// nil tenant regardless of the targeted tenant.
func (s *MigrationService) scopeFor(def *models.MigrationDefinition, tenantID *string) *string {
	if def.TenantSpecific {
		return tenantID
	}
	return nil
}

// completedSet returns the set of migration IDs whose execution is completed
// in the given scope (each definition checked against its own scope).
func (s *MigrationService) completedSet(ctx context.Context, tenantID *string) (map[string]bool, error) {
	execs, err := s.repos.Migration.ListExecutions(ctx, tenantID)
	if err != nil {
		return nil, &InternalError{Op: "list executions", Err: err}
	}
	completed := make(map[string]bool)
	for _, e := range execs {
		if e.Status == models.MigrationStatusCompleted {
			completed[e.MigrationID] = true
		}
	}
	return completed, nil
}

// completedDependents returns the names of completed migrations in scope that
// declare def as a dependency.
func (s *MigrationService) completedDependents(ctx context.Context, def *models.MigrationDefinition, tenantID *string) ([]string, error) {
	defs, err := s.repos.Migration.ListDefinitions(ctx)
	if err != nil {
		return nil, &InternalError{Op: "list definitions", Err: err}
	}
	completed, err := s.completedSet(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var dependents []string
	for _, candidate := range defs {
		if !completed[candidate.ID] {
			continue
		}
		for _, dep := range candidate.DependsOn {
			if dep == def.ID {
				dependents = append(dependents, candidate.Name)
				break
			}
		}
	}
	return dependents, nil
}

func firstUnsatisfiedDep(def *models.MigrationDefinition, completed, broken map[string]bool) (string, bool) {
	for _, dep := range def.DependsOn {
		if broken[dep] || !completed[dep] {
			return dep, true
		}
	}
	return "", false
}

// topoSort orders definitions by their dependency graph using Kahn's
// algorithm. Among migrations whose dependencies are all satisfied, creation
// order (the input order) is the stable tie-break. A cycle is a validation
// failure: CreateDefinition forbids forward references, so cycles can only
// come from corrupted data.
func topoSort(defs []*models.MigrationDefinition) ([]*models.MigrationDefinition, error) {
	inScope := make(map[string]bool, len(defs))
	for _, d := range defs {
		inScope[d.ID] = true
	}

	indegree := make(map[string]int, len(defs))
	dependents := make(map[string][]string)
	for _, d := range defs {
		for _, dep := range d.DependsOn {
			if !inScope[dep] {
				// Dependency outside the scope (e.g. a tenant-specific
				// migration depending on a global one when running globally):
				// its completion is checked at execution time instead.
				continue
			}
			indegree[d.ID]++
			dependents[dep] = append(dependents[dep], d.ID)
		}
	}

	byID := make(map[string]*models.MigrationDefinition, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
	}

	var ordered []*models.MigrationDefinition
	remaining := len(defs)
	queued := make(map[string]bool)

	for remaining > 0 {
		progressed := false
		// Scan in creation order so ready migrations run oldest-first.
		for _, d := range defs {
			if queued[d.ID] || indegree[d.ID] > 0 {
				continue
			}
			queued[d.ID] = true
			ordered = append(ordered, d)
			remaining--
			progressed = true
			for _, next := range dependents[d.ID] {
				indegree[next]--
			}
		}
		if !progressed {
			return nil, &InternalError{Op: "order migrations", Err: fmt.Errorf("dependency cycle detected")}
		}
	}

	return ordered, nil
}

func scopeString(scope *string) string {
	if scope == nil {
		return "global"
	}
	return *scope
}
