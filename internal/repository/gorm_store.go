package repository

import (
	"context"
	"fmt"

	"chatguard/internal/models"
	"chatguard/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const saveAllBatchSize = 500

// GormStore keeps the moderation log in SQL tables through GORM. It serves
// both the postgres and sqlite drivers.
type GormStore struct {
	db      *gorm.DB
	system  string
	metrics *observability.DatabaseMetrics

	violationLog *observability.RepoLogger
	actionLog    *observability.RepoLogger
}

// NewGormStore creates a store on an already migrated database.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db:           db,
		system:       db.Dialector.Name(),
		metrics:      observability.NewDatabaseMetrics(),
		violationLog: observability.NewRepoLogger(models.Violation{}.TableName()),
		actionLog:    observability.NewRepoLogger(models.Action{}.TableName()),
	}
}

func (s *GormStore) LoadViolations(ctx context.Context) (_ []models.Violation, err error) {
	ctx, span := observability.GetTraceLayer().TraceStoreMethod(ctx, s.system, "load_violations")
	defer func() { observability.EndSpan(span, err) }()
	defer s.metrics.TrackQuery("select", models.Violation{}.TableName())()

	var violations []models.Violation
	if err = s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&violations).Error; err != nil {
		s.violationLog.LogError(ctx, err, "load")
		return nil, fmt.Errorf("load violations: %w", err)
	}
	s.violationLog.LogRead(ctx, map[string]interface{}{"rows": len(violations)})
	return violations, nil
}

func (s *GormStore) LoadActions(ctx context.Context) (_ []models.Action, err error) {
	ctx, span := observability.GetTraceLayer().TraceStoreMethod(ctx, s.system, "load_actions")
	defer func() { observability.EndSpan(span, err) }()
	defer s.metrics.TrackQuery("select", models.Action{}.TableName())()

	var actions []models.Action
	if err = s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&actions).Error; err != nil {
		s.actionLog.LogError(ctx, err, "load")
		return nil, fmt.Errorf("load actions: %w", err)
	}
	s.actionLog.LogRead(ctx, map[string]interface{}{"rows": len(actions)})
	return actions, nil
}

func (s *GormStore) AppendDecision(ctx context.Context, v *models.Violation, a *models.Action) (err error) {
	ctx, span := observability.GetTraceLayer().TraceStoreMethod(ctx, s.system, "append_decision")
	defer func() { observability.EndSpan(span, err) }()
	defer s.metrics.TrackQuery("insert", models.Violation{}.TableName())()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(v).Error; err != nil {
			return fmt.Errorf("insert violation: %w", err)
		}
		if a == nil {
			return nil
		}
		if err := tx.Create(a).Error; err != nil {
			return fmt.Errorf("insert action: %w", err)
		}
		return nil
	})
	if err != nil {
		s.violationLog.LogError(ctx, err, "append_decision")
		return err
	}

	fields := map[string]interface{}{"violation_id": v.ID, "user_id": v.UserID}
	if a != nil {
		fields["action"] = a.Kind.String()
	}
	s.violationLog.LogCreate(ctx, fields)
	return nil
}

// SaveAll inserts the snapshot in batches, skipping rows whose ID already
// exists so an export can be re-imported safely.
func (s *GormStore) SaveAll(ctx context.Context, snap *models.Snapshot) (res SaveResult, err error) {
	snap.AssignIDs()
	if err = snap.Validate(); err != nil {
		return res, err
	}
	ctx, span := observability.GetTraceLayer().TraceStoreMethod(ctx, s.system, "save_all")
	defer func() { observability.EndSpan(span, err) }()
	defer s.metrics.TrackQuery("insert", "snapshot")()

	violations := snap.FlattenViolations()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(violations) > 0 {
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&violations, saveAllBatchSize)
			if result.Error != nil {
				return fmt.Errorf("save violations: %w", result.Error)
			}
			res.Violations = int(result.RowsAffected)
		}
		if len(snap.Actions) > 0 {
			actions := append([]models.Action(nil), snap.Actions...)
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&actions, saveAllBatchSize)
			if result.Error != nil {
				return fmt.Errorf("save actions: %w", result.Error)
			}
			res.Actions = int(result.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return SaveResult{}, err
	}
	res.SkippedViolations = len(violations) - res.Violations
	res.SkippedActions = len(snap.Actions) - res.Actions
	return res, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
