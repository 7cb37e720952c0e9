package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kubev2v/vdc-migrator/internal/migration"
	"github.com/kubev2v/vdc-migrator/internal/store/model"
)

// Journal is the write side used during a run plus the reads behind the history
// command. Nothing in the pipeline reads it back.
type Journal interface {
	Append(ctx context.Context, outcome migration.Outcome) error
	List(ctx context.Context, runID uuid.UUID) (model.OutcomeList, error)
	Last(ctx context.Context, vmName string) (*model.Outcome, error)
	InitialMigration() error
}

type JournalStore struct {
	db *gorm.DB
}

var _ Journal = (*JournalStore)(nil)
var _ migration.Journal = (*JournalStore)(nil)

func NewJournal(db *gorm.DB) *JournalStore {
	return &JournalStore{db: db}
}

func (j *JournalStore) InitialMigration() error {
	return j.db.AutoMigrate(&model.Outcome{})
}

func (j *JournalStore) Append(ctx context.Context, outcome migration.Outcome) error {
	m := model.Outcome{
		RunID:           outcome.RunID,
		VMName:          outcome.VMName,
		SourceCluster:   outcome.SourceCluster,
		SourceDatastore: outcome.SourceDatastore,
		SourceTag:       outcome.SourceTag,
		SourceNetworks:  outcome.SourceNetworks,
		SizeGB:          outcome.SizeGB,
		Status:          string(outcome.Status),
		Stage:           outcome.Stage.String(),
		Reason:          outcome.Reason,
		Notes:           outcome.Notes,
		StartedAt:       outcome.Started,
		FinishedAt:      outcome.Finished,
	}
	return j.db.WithContext(ctx).Create(&m).Error
}

func (j *JournalStore) List(ctx context.Context, runID uuid.UUID) (model.OutcomeList, error) {
	var outcomes model.OutcomeList
	result := j.db.WithContext(ctx).Where("run_id = ?", runID).Order("id").Find(&outcomes)
	if result.Error != nil {
		return nil, result.Error
	}
	return outcomes, nil
}

// Last returns the most recent journal line of the VM across runs.
func (j *JournalStore) Last(ctx context.Context, vmName string) (*model.Outcome, error) {
	var outcome model.Outcome
	result := j.db.WithContext(ctx).Where("vm_name = ?", vmName).Order("id desc").Limit(1).Find(&outcome)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}
	return &outcome, nil
}
