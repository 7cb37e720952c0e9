package vsphere

import (
	"context"
	"fmt"

	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vapi/tags"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"
	"go.uber.org/zap"

	"github.com/kubev2v/vdc-migrator/internal/migration"
)

// DetachMedia ejects every ISO image mounted on vm and returns how many were ejected.
func (s *Session) DetachMedia(ctx context.Context, vm migration.VirtualMachine) (int, error) {
	vmObj := object.NewVirtualMachine(s.client.Client, fromRef(vm.Ref))
	devices, err := vmObj.Device(ctx)
	if err != nil {
		return 0, fmt.Errorf("devices of %s: %w", vm.Name, err)
	}

	n := 0
	for _, d := range devices.SelectByType((*types.VirtualCdrom)(nil)) {
		cdrom, ok := d.(*types.VirtualCdrom)
		if !ok {
			continue
		}
		if _, iso := cdrom.Backing.(*types.VirtualCdromIsoBackingInfo); !iso {
			continue
		}
		if err := vmObj.EditDevice(ctx, devices.EjectIso(cdrom)); err != nil {
			return n, fmt.Errorf("ejecting iso from %s: %w", devices.Name(cdrom), err)
		}
		n++
	}
	return n, nil
}

// Relocate submits the move and returns the task id without waiting for it.
func (s *Session) Relocate(ctx context.Context, vm migration.VirtualMachine, spec migration.RelocationSpec) (string, error) {
	vmObj := object.NewVirtualMachine(s.client.Client, fromRef(vm.Ref))
	devices, err := vmObj.Device(ctx)
	if err != nil {
		return "", fmt.Errorf("devices of %s: %w", vm.Name, err)
	}

	rs, err := relocateSpec(devices, spec)
	if err != nil {
		return "", fmt.Errorf("relocation of %s: %w", vm.Name, err)
	}
	zap.S().Named("vsphere").Debugf("relocating %s: host=%s datastore=%s pool=%s folder=%s disks=%d nics=%d",
		vm.Name, rs.Host.Value, rs.Datastore.Value, rs.Pool.Value, rs.Folder.Value, len(rs.Disk), len(rs.DeviceChange))

	task, err := vmObj.Relocate(ctx, rs, types.VirtualMachineMovePriorityDefaultPriority)
	if err != nil {
		return "", err
	}
	return task.Reference().Value, nil
}

func relocateSpec(devices object.VirtualDeviceList, spec migration.RelocationSpec) (types.VirtualMachineRelocateSpec, error) {
	host := fromRef(spec.Placement.Host.Ref)
	datastore := fromRef(spec.Placement.Datastore.Ref)
	pool := fromRef(spec.Placement.ResourcePool)
	folder := fromRef(spec.Placement.Folder.Ref)

	rs := types.VirtualMachineRelocateSpec{
		Host:      &host,
		Datastore: &datastore,
		Pool:      &pool,
		Folder:    &folder,
	}

	if spec.ThinProvisioned {
		for _, d := range devices.SelectByType((*types.VirtualDisk)(nil)) {
			rs.Disk = append(rs.Disk, types.VirtualMachineRelocateSpecDiskLocator{
				DiskId:    d.GetVirtualDevice().Key,
				Datastore: datastore,
				DiskBackingInfo: &types.VirtualDiskFlatVer2BackingInfo{
					DiskMode:        string(types.VirtualDiskModePersistent),
					ThinProvisioned: types.NewBool(true),
				},
			})
		}
	}

	for _, m := range spec.Networks {
		d := devices.FindByKey(m.Adapter.Key)
		if d == nil {
			return rs, fmt.Errorf("adapter %s (key %d) not found", m.Adapter.Label, m.Adapter.Key)
		}
		card, ok := d.(types.BaseVirtualEthernetCard)
		if !ok {
			return rs, fmt.Errorf("device %s is not an ethernet card", m.Adapter.Label)
		}
		card.GetVirtualEthernetCard().Backing = &types.VirtualEthernetCardDistributedVirtualPortBackingInfo{
			Port: types.DistributedVirtualSwitchPortConnection{
				SwitchUuid:   m.TargetPortgroup.SwitchUUID,
				PortgroupKey: m.TargetPortgroup.Key,
			},
		}
		rs.DeviceChange = append(rs.DeviceChange, &types.VirtualDeviceConfigSpec{
			Operation: types.VirtualDeviceConfigSpecOperationEdit,
			Device:    d,
		})
	}
	return rs, nil
}

// Task reads the current state of a task. A task unknown to the server is reported as
// not found so the caller can treat it as transient.
func (s *Session) Task(ctx context.Context, id string) (*migration.TaskInfo, error) {
	ref := types.ManagedObjectReference{Type: "Task", Value: id}
	var t mo.Task
	if err := s.pc.RetrieveOne(ctx, ref, []string{"info"}, &t); err != nil {
		if isManagedObjectNotFound(err) {
			return nil, migration.NewErrResourceNotFound("task", id)
		}
		return nil, err
	}
	if t.Info.Key == "" && t.Info.Task.Value == "" {
		return nil, migration.NewErrResourceNotFound("task", id)
	}

	info := &migration.TaskInfo{
		ID:              id,
		State:           taskState(t.Info.State),
		PercentComplete: t.Info.Progress,
		StartTime:       t.Info.StartTime,
		FinishTime:      t.Info.CompleteTime,
	}
	if info.State == migration.TaskSuccess {
		info.PercentComplete = 100
	}
	if t.Info.Error != nil {
		info.Error = t.Info.Error.LocalizedMessage
		if info.Error == "" && t.Info.Error.Fault != nil {
			info.Error = fmt.Sprintf("%T", t.Info.Error.Fault)
		}
	}
	return info, nil
}

func taskState(s types.TaskInfoState) migration.TaskState {
	switch s {
	case types.TaskInfoStateRunning:
		return migration.TaskRunning
	case types.TaskInfoStateSuccess:
		return migration.TaskSuccess
	case types.TaskInfoStateError:
		return migration.TaskError
	default:
		return migration.TaskQueued
	}
}

// SourceTag returns the name of the first tag attached to vm, limited to the configured
// category when there is one. No tag yields an empty label.
func (s *Session) SourceTag(ctx context.Context, vm migration.VirtualMachine) (string, error) {
	if s.rest == nil {
		return "", nil
	}
	m := tags.NewManager(s.rest)
	attached, err := m.GetAttachedTags(ctx, fromRef(vm.Ref))
	if err != nil {
		return "", fmt.Errorf("tags of %s: %w", vm.Name, err)
	}

	for _, t := range attached {
		if s.cfg.TagCategory != "" {
			category, err := m.GetCategory(ctx, t.CategoryID)
			if err != nil {
				return "", fmt.Errorf("category of tag %s: %w", t.Name, err)
			}
			if category.Name != s.cfg.TagCategory {
				continue
			}
		}
		return t.Name, nil
	}
	return "", nil
}

var _ migration.ComputeSession = &Session{}
