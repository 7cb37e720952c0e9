package migration

import (
	"errors"
	"fmt"
)

type InvalidReason string

const (
	SourceNotFound          InvalidReason = "SourceNotFound"
	AlreadyMigrated         InvalidReason = "AlreadyMigrated"
	UnknownOsClass          InvalidReason = "UnknownOsClass"
	NoNetwork               InvalidReason = "NoNetwork"
	MultipleNetworks        InvalidReason = "MultipleNetworks"
	DestinationPoolNotFound InvalidReason = "DestinationPoolNotFound"
	FolderNotFound          InvalidReason = "FolderNotFound"
	AmbiguousFolder         InvalidReason = "AmbiguousFolder"
	PolicyViolation         InvalidReason = "PolicyViolation"
)

type ErrResourceNotFound struct {
	error
}

func NewErrResourceNotFound(kind, name string) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("%s %q not found", kind, name)}
}

func IsNotFound(err error) bool {
	var e *ErrResourceNotFound
	return errors.As(err, &e)
}

type ErrValidation struct {
	error
	Reason InvalidReason
}

func NewErrValidation(reason InvalidReason, format string, args ...any) *ErrValidation {
	return &ErrValidation{
		error:  fmt.Errorf("%s: %s", reason, fmt.Sprintf(format, args...)),
		Reason: reason,
	}
}

type ErrPlacement struct {
	error
}

func NewErrInsufficientCapacity(datastore string, free, required int64) *ErrPlacement {
	return &ErrPlacement{fmt.Errorf("InsufficientCapacity: datastore %s has %d bytes free, %d required", datastore, free, required)}
}

func NewErrPlacement(format string, args ...any) *ErrPlacement {
	return &ErrPlacement{fmt.Errorf(format, args...)}
}

type ErrNetworkResolution struct {
	error
	Adapter string
}

func NewErrNetworkResolution(adapter, network string, err error) *ErrNetworkResolution {
	return &ErrNetworkResolution{
		error:   fmt.Errorf("NetworkResolutionFailed: adapter %q network %q: %w", adapter, network, err),
		Adapter: adapter,
	}
}

func (e *ErrNetworkResolution) Unwrap() error {
	return errors.Unwrap(e.error)
}

type ErrExecution struct {
	error
	TaskID string
}

func NewErrExecution(taskID, message string) *ErrExecution {
	return &ErrExecution{
		error:  fmt.Errorf("relocation task %s failed: %s", taskID, message),
		TaskID: taskID,
	}
}
