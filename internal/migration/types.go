package migration

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Request is one row of the input batch. It drives exactly one orchestration run.
type Request struct {
	VMName               string
	OsClass              string
	DatastoreClusterName string
	TenantName           string
	TenantID             string
}

type OsClass string

const (
	OsClassWindows OsClass = "windows"
	OsClassLinux   OsClass = "linux"
	OsClassSQL     OsClass = "sql"
	OsClassUnknown OsClass = ""
)

var osClasses = []OsClass{OsClassWindows, OsClassLinux, OsClassSQL}

// ParseOsClass maps a free-form os type to the closed enumeration. Anything outside
// of it is OsClassUnknown.
func ParseOsClass(s string) OsClass {
	v := OsClass(strings.ToLower(strings.TrimSpace(s)))
	for _, c := range osClasses {
		if c == v {
			return c
		}
	}
	return OsClassUnknown
}

// Environment selects one of the two inventories the compute session can see.
type Environment int

const (
	Source Environment = iota
	Destination
)

func (e Environment) String() string {
	if e == Destination {
		return "destination"
	}
	return "source"
}

// Ref is an opaque reference to a remote object, e.g. a vSphere managed object id
// or a vCD href.
type Ref struct {
	Type  string
	Value string
}

func (r Ref) String() string {
	return r.Type + ":" + r.Value
}

type VirtualMachine struct {
	Ref              Ref
	Name             string
	Cluster          string
	Datastore        string
	ProvisionedBytes int64
}

func (vm VirtualMachine) SizeGB() int64 {
	return vm.ProvisionedBytes / 1024 / 1024 / 1024
}

type Cluster struct {
	Ref          Ref
	Name         string
	ResourcePool Ref
}

type Host struct {
	Ref         Ref
	Name        string
	CpuUsageMHz int64
}

type Datastore struct {
	Ref       Ref
	Name      string
	FreeBytes int64
}

type Folder struct {
	Ref  Ref
	Name string
}

type NetworkAdapter struct {
	Ref         Ref
	Key         int32
	Label       string
	NetworkName string
}

type Portgroup struct {
	Ref        Ref
	Name       string
	Key        string
	SwitchUUID string
}

// PlacementDecision is recomputed per request and never persisted.
type PlacementDecision struct {
	Host         Host
	Datastore    Datastore
	Folder       Folder
	ResourcePool Ref
}

type AdapterMapping struct {
	Adapter         NetworkAdapter
	SourceNetwork   string
	TargetNetwork   string
	TargetPortgroup Portgroup
}

// NetworkMapping keeps the order of the source adapters.
type NetworkMapping []AdapterMapping

func (m NetworkMapping) SourceNetworks() []string {
	names := make([]string, 0, len(m))
	for _, a := range m {
		names = append(names, a.SourceNetwork)
	}
	return names
}

// RelocationSpec is everything the compute session needs to submit a move.
type RelocationSpec struct {
	Placement       PlacementDecision
	Networks        NetworkMapping
	ThinProvisioned bool
}

type TaskState string

const (
	TaskQueued  TaskState = "queued"
	TaskRunning TaskState = "running"
	TaskSuccess TaskState = "success"
	TaskError   TaskState = "error"
)

func (s TaskState) Terminal() bool {
	return s == TaskSuccess || s == TaskError
}

// TaskInfo is a read-only snapshot of a remote relocation task.
type TaskInfo struct {
	ID              string
	State           TaskState
	PercentComplete int32
	StartTime       *time.Time
	FinishTime      *time.Time
	Error           string
}

type OrgVDC struct {
	Ref  Ref
	Name string
}

type VApp struct {
	Ref  Ref
	Name string
}

// Stage is the furthest step of the pipeline a request reached.
type Stage int

const (
	StageValidation Stage = iota
	StagePlacement
	StageNetwork
	StageExecution
	StageImport
	StageMetadata
	StageDone
)

var stageNames = map[Stage]string{
	StageValidation: "validation",
	StagePlacement:  "placement",
	StageNetwork:    "network",
	StageExecution:  "execution",
	StageImport:     "import",
	StageMetadata:   "metadata",
	StageDone:       "done",
}

func (s Stage) String() string {
	return stageNames[s]
}

type OutcomeStatus string

const (
	StatusCompleted OutcomeStatus = "Completed"
	StatusSkipped   OutcomeStatus = "Skipped"
	StatusFailed    OutcomeStatus = "Failed"
)

// Outcome is the per-VM result. It is appended once and never mutated.
type Outcome struct {
	RunID           uuid.UUID
	VMName          string
	SourceCluster   string
	SourceDatastore string
	SourceTag       string
	SourceNetworks  []string
	SizeGB          int64
	Status          OutcomeStatus
	Stage           Stage
	Reason          string
	Notes           []string
	Started         time.Time
	Finished        time.Time
}

// Reportable tells whether the outcome belongs to the tabular report, which covers
// the VMs that got at least to network resolution.
func (o Outcome) Reportable() bool {
	return o.Stage >= StageNetwork
}
