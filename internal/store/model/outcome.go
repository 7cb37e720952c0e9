package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Outcome is one journal line: what happened to a VM during a run.
type Outcome struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	RunID           uuid.UUID `gorm:"type:VARCHAR(36);index:outcomes_run_id;not null"`
	VMName          string    `gorm:"column:vm_name;type:VARCHAR(255);index:outcomes_vm_name;not null"`
	SourceCluster   string
	SourceDatastore string
	SourceTag       string
	SourceNetworks  []string `gorm:"serializer:json;type:TEXT"`
	SizeGB          int64    `gorm:"column:size_gb"`
	Status          string   `gorm:"type:VARCHAR(16);not null"`
	Stage           string   `gorm:"type:VARCHAR(16);not null"`
	Reason          string   `gorm:"type:TEXT"`
	Notes           []string `gorm:"serializer:json;type:TEXT"`
	StartedAt       time.Time
	FinishedAt      time.Time
	CreatedAt       time.Time
}

type OutcomeList []Outcome

func (o Outcome) String() string {
	val, _ := json.Marshal(o)
	return string(val)
}
