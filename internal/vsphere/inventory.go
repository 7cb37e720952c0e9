package vsphere

import (
	"context"
	"fmt"
	"strings"

	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/view"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"
	"go.uber.org/zap"

	"github.com/kubev2v/vdc-migrator/internal/migration"
)

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`)

// search returns every object of kind named exactly name below root.
func (s *Session) search(ctx context.Context, root types.ManagedObjectReference, kind, name string) ([]types.ManagedObjectReference, error) {
	v, err := view.NewManager(s.client.Client).CreateContainerView(ctx, root, []string{kind}, true)
	if err != nil {
		return nil, fmt.Errorf("creating %s view: %w", kind, err)
	}
	defer func() {
		_ = v.Destroy(ctx)
	}()

	refs, err := v.Find(ctx, []string{kind}, property.Match{"name": globReplacer.Replace(name)})
	if err != nil {
		return nil, fmt.Errorf("searching %s %q: %w", kind, name, err)
	}
	return refs, nil
}

func (s *Session) FindVMs(ctx context.Context, env migration.Environment, name string) ([]migration.VirtualMachine, error) {
	_, dc, err := s.finder(ctx, env)
	if err != nil {
		return nil, err
	}
	folders, err := dc.Folders(ctx)
	if err != nil {
		return nil, err
	}
	refs, err := s.search(ctx, folders.VmFolder.Reference(), "VirtualMachine", name)
	if err != nil || len(refs) == 0 {
		return nil, err
	}

	var mos []mo.VirtualMachine
	if err := s.pc.Retrieve(ctx, refs, []string{"name", "runtime.host", "datastore", "summary.storage"}, &mos); err != nil {
		return nil, fmt.Errorf("retrieving vm %s: %w", name, err)
	}

	vms := make([]migration.VirtualMachine, 0, len(mos))
	for _, m := range mos {
		if m.Name != name {
			continue
		}
		vm, err := s.toVirtualMachine(ctx, m)
		if err != nil {
			return nil, err
		}
		vms = append(vms, *vm)
	}
	zap.S().Named("vsphere").Debugf("%s: %d vm(s) named %s", env, len(vms), name)
	return vms, nil
}

func (s *Session) toVirtualMachine(ctx context.Context, m mo.VirtualMachine) (*migration.VirtualMachine, error) {
	vm := &migration.VirtualMachine{Ref: toRef(m.Reference()), Name: m.Name}

	if m.Summary.Storage != nil {
		vm.ProvisionedBytes = m.Summary.Storage.Committed + m.Summary.Storage.Uncommitted
	}
	if len(m.Datastore) > 0 {
		name, err := object.NewCommon(s.client.Client, m.Datastore[0]).ObjectName(ctx)
		if err != nil {
			return nil, fmt.Errorf("datastore of %s: %w", m.Name, err)
		}
		vm.Datastore = name
	}
	if m.Runtime.Host != nil {
		var host mo.HostSystem
		if err := s.pc.RetrieveOne(ctx, *m.Runtime.Host, []string{"parent"}, &host); err != nil {
			return nil, fmt.Errorf("host of %s: %w", m.Name, err)
		}
		if host.Parent != nil {
			name, err := object.NewCommon(s.client.Client, *host.Parent).ObjectName(ctx)
			if err != nil {
				return nil, fmt.Errorf("cluster of %s: %w", m.Name, err)
			}
			vm.Cluster = name
		}
	}
	return vm, nil
}

func (s *Session) FindCluster(ctx context.Context, env migration.Environment, name string) (*migration.Cluster, error) {
	finder, _, err := s.finder(ctx, env)
	if err != nil {
		return nil, err
	}
	cl, err := finder.ClusterComputeResource(ctx, name)
	if err != nil {
		if isFinderNotFound(err) {
			return nil, migration.NewErrResourceNotFound("cluster", name)
		}
		return nil, err
	}
	pool, err := cl.ResourcePool(ctx)
	if err != nil {
		return nil, fmt.Errorf("resource pool of cluster %s: %w", name, err)
	}
	return &migration.Cluster{
		Ref:          toRef(cl.Reference()),
		Name:         name,
		ResourcePool: toRef(pool.Reference()),
	}, nil
}

// ClusterHosts lists the cluster members in inventory order with their current CPU usage.
func (s *Session) ClusterHosts(ctx context.Context, cluster migration.Cluster) ([]migration.Host, error) {
	var cl mo.ClusterComputeResource
	if err := s.pc.RetrieveOne(ctx, fromRef(cluster.Ref), []string{"host"}, &cl); err != nil {
		return nil, fmt.Errorf("members of %s: %w", cluster.Name, err)
	}
	if len(cl.Host) == 0 {
		return nil, nil
	}

	var mos []mo.HostSystem
	if err := s.pc.Retrieve(ctx, cl.Host, []string{"name", "summary.quickStats"}, &mos); err != nil {
		return nil, fmt.Errorf("host stats of %s: %w", cluster.Name, err)
	}
	byRef := make(map[types.ManagedObjectReference]mo.HostSystem, len(mos))
	for _, h := range mos {
		byRef[h.Reference()] = h
	}

	hosts := make([]migration.Host, 0, len(cl.Host))
	for _, ref := range cl.Host {
		h, ok := byRef[ref]
		if !ok {
			continue
		}
		hosts = append(hosts, migration.Host{
			Ref:         toRef(ref),
			Name:        h.Name,
			CpuUsageMHz: int64(h.Summary.QuickStats.OverallCpuUsage),
		})
	}
	return hosts, nil
}

func (s *Session) StoragePodDatastores(ctx context.Context, env migration.Environment, pod string) ([]migration.Datastore, error) {
	finder, _, err := s.finder(ctx, env)
	if err != nil {
		return nil, err
	}
	sp, err := finder.DatastoreCluster(ctx, pod)
	if err != nil {
		if isFinderNotFound(err) {
			return nil, migration.NewErrResourceNotFound("datastore cluster", pod)
		}
		return nil, err
	}

	var m mo.StoragePod
	if err := s.pc.RetrieveOne(ctx, sp.Reference(), []string{"childEntity"}, &m); err != nil {
		return nil, fmt.Errorf("members of %s: %w", pod, err)
	}
	var refs []types.ManagedObjectReference
	for _, ref := range m.ChildEntity {
		if ref.Type == "Datastore" {
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		return nil, nil
	}

	var mos []mo.Datastore
	if err := s.pc.Retrieve(ctx, refs, []string{"name", "summary.freeSpace"}, &mos); err != nil {
		return nil, fmt.Errorf("datastores of %s: %w", pod, err)
	}
	byRef := make(map[types.ManagedObjectReference]mo.Datastore, len(mos))
	for _, d := range mos {
		byRef[d.Reference()] = d
	}

	datastores := make([]migration.Datastore, 0, len(refs))
	for _, ref := range refs {
		if d, ok := byRef[ref]; ok {
			datastores = append(datastores, migration.Datastore{Ref: toRef(ref), Name: d.Name, FreeBytes: d.Summary.FreeSpace})
		}
	}
	return datastores, nil
}

// FindFolders returns every vm folder carrying name, at any depth.
func (s *Session) FindFolders(ctx context.Context, env migration.Environment, name string) ([]migration.Folder, error) {
	_, dc, err := s.finder(ctx, env)
	if err != nil {
		return nil, err
	}
	folders, err := dc.Folders(ctx)
	if err != nil {
		return nil, err
	}
	refs, err := s.search(ctx, folders.VmFolder.Reference(), "Folder", name)
	if err != nil || len(refs) == 0 {
		return nil, err
	}

	var mos []mo.Folder
	if err := s.pc.Retrieve(ctx, refs, []string{"name"}, &mos); err != nil {
		return nil, fmt.Errorf("retrieving folder %s: %w", name, err)
	}
	result := make([]migration.Folder, 0, len(mos))
	for _, f := range mos {
		if f.Name == name {
			result = append(result, migration.Folder{Ref: toRef(f.Reference()), Name: f.Name})
		}
	}
	return result, nil
}

// FindPortgroup resolves a distributed portgroup by name, on the configured switch when
// one is set.
func (s *Session) FindPortgroup(ctx context.Context, env migration.Environment, name string) (*migration.Portgroup, error) {
	_, dc, err := s.finder(ctx, env)
	if err != nil {
		return nil, err
	}
	folders, err := dc.Folders(ctx)
	if err != nil {
		return nil, err
	}
	refs, err := s.search(ctx, folders.NetworkFolder.Reference(), "DistributedVirtualPortgroup", name)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, migration.NewErrResourceNotFound("portgroup", name)
	}

	var mos []mo.DistributedVirtualPortgroup
	if err := s.pc.Retrieve(ctx, refs, []string{"name", "key", "config.distributedVirtualSwitch"}, &mos); err != nil {
		return nil, fmt.Errorf("retrieving portgroup %s: %w", name, err)
	}

	var found []migration.Portgroup
	for _, pg := range mos {
		if pg.Name != name || pg.Config.DistributedVirtualSwitch == nil {
			continue
		}
		var dvs mo.DistributedVirtualSwitch
		if err := s.pc.RetrieveOne(ctx, *pg.Config.DistributedVirtualSwitch, []string{"name", "uuid"}, &dvs); err != nil {
			return nil, fmt.Errorf("switch of portgroup %s: %w", name, err)
		}
		if s.cfg.DestinationSwitch != "" && dvs.Name != s.cfg.DestinationSwitch {
			continue
		}
		found = append(found, migration.Portgroup{
			Ref:        toRef(pg.Reference()),
			Name:       pg.Name,
			Key:        pg.Key,
			SwitchUUID: dvs.Uuid,
		})
	}

	switch len(found) {
	case 0:
		return nil, migration.NewErrResourceNotFound("portgroup", name)
	case 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("portgroup %s exists on %d distributed switches", name, len(found))
	}
}

// NetworkAdapters lists the ethernet cards of vm in device order.
func (s *Session) NetworkAdapters(ctx context.Context, vm migration.VirtualMachine) ([]migration.NetworkAdapter, error) {
	devices, err := object.NewVirtualMachine(s.client.Client, fromRef(vm.Ref)).Device(ctx)
	if err != nil {
		return nil, fmt.Errorf("devices of %s: %w", vm.Name, err)
	}

	var adapters []migration.NetworkAdapter
	for _, d := range devices.SelectByType((*types.VirtualEthernetCard)(nil)) {
		dev := d.GetVirtualDevice()
		label := devices.Name(d)
		if info := dev.DeviceInfo; info != nil && info.GetDescription() != nil {
			label = info.GetDescription().Label
		}
		network, err := s.backingNetwork(ctx, dev.Backing)
		if err != nil {
			return nil, fmt.Errorf("network of %s %s: %w", vm.Name, label, err)
		}
		adapters = append(adapters, migration.NetworkAdapter{
			Ref:         vm.Ref,
			Key:         dev.Key,
			Label:       label,
			NetworkName: network,
		})
	}
	return adapters, nil
}

func (s *Session) backingNetwork(ctx context.Context, backing types.BaseVirtualDeviceBackingInfo) (string, error) {
	switch b := backing.(type) {
	case *types.VirtualEthernetCardNetworkBackingInfo:
		return b.DeviceName, nil
	case *types.VirtualEthernetCardDistributedVirtualPortBackingInfo:
		ref := types.ManagedObjectReference{Type: "DistributedVirtualPortgroup", Value: b.Port.PortgroupKey}
		return object.NewCommon(s.client.Client, ref).ObjectName(ctx)
	case *types.VirtualEthernetCardOpaqueNetworkBackingInfo:
		return b.OpaqueNetworkId, nil
	default:
		return "", nil
	}
}
