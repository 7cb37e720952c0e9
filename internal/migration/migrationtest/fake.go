// Package migrationtest provides in-memory compute and tenant sessions for exercising
// the migration engine without remote services.
package migrationtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/kubev2v/vdc-migrator/internal/migration"
)

// TaskStep is one answer of a scripted relocation task.
type TaskStep struct {
	State    migration.TaskState
	Percent  int32
	Error    string
	NotFound bool
}

// Compute is a fake compute session. Successful relocations move the VM from the
// source inventory to the destination inventory, like the real move would.
type Compute struct {
	mu sync.Mutex

	SourceVMs      map[string][]migration.VirtualMachine
	DestinationVMs map[string][]migration.VirtualMachine
	Clusters       map[string]migration.Cluster
	Hosts          map[string][]migration.Host
	StoragePods    map[string][]migration.Datastore
	Folders        map[string][]migration.Folder
	Adapters       map[string][]migration.NetworkAdapter
	Portgroups     map[string]migration.Portgroup
	Tags           map[string]string
	ISOs           map[string]int

	// TaskScript is replayed for every submitted relocation.
	TaskScript []TaskStep
	// Errors forces a method (by name) to fail.
	Errors map[string]error

	Relocations []Relocation
	TaskReads   map[string]int
	Detached    map[string]int

	tasks   map[string][]TaskStep
	pending map[string]migration.VirtualMachine
}

type Relocation struct {
	VM     migration.VirtualMachine
	Spec   migration.RelocationSpec
	TaskID string
}

func NewCompute() *Compute {
	return &Compute{
		SourceVMs:      map[string][]migration.VirtualMachine{},
		DestinationVMs: map[string][]migration.VirtualMachine{},
		Clusters:       map[string]migration.Cluster{},
		Hosts:          map[string][]migration.Host{},
		StoragePods:    map[string][]migration.Datastore{},
		Folders:        map[string][]migration.Folder{},
		Adapters:       map[string][]migration.NetworkAdapter{},
		Portgroups:     map[string]migration.Portgroup{},
		Tags:           map[string]string{},
		ISOs:           map[string]int{},
		Errors:         map[string]error{},
		TaskScript: []TaskStep{
			{State: migration.TaskRunning, Percent: 50},
			{State: migration.TaskSuccess, Percent: 100},
		},
		TaskReads: map[string]int{},
		Detached:  map[string]int{},
		tasks:     map[string][]TaskStep{},
		pending:   map[string]migration.VirtualMachine{},
	}
}

// AddVM registers a source VM together with its adapters.
func (c *Compute) AddVM(vm migration.VirtualMachine, networks ...string) {
	if vm.Ref.Value == "" {
		vm.Ref = migration.Ref{Type: "VirtualMachine", Value: "vm-" + vm.Name}
	}
	c.SourceVMs[vm.Name] = append(c.SourceVMs[vm.Name], vm)
	for i, n := range networks {
		c.Adapters[vm.Name] = append(c.Adapters[vm.Name], migration.NetworkAdapter{
			Key:         int32(4000 + i),
			Label:       fmt.Sprintf("Network adapter %d", i+1),
			NetworkName: n,
		})
	}
}

func (c *Compute) AddCluster(name string, hosts ...migration.Host) {
	c.Clusters[name] = migration.Cluster{
		Ref:          migration.Ref{Type: "ClusterComputeResource", Value: "domain-" + name},
		Name:         name,
		ResourcePool: migration.Ref{Type: "ResourcePool", Value: "resgroup-" + name},
	}
	c.Hosts[name] = hosts
}

func (c *Compute) AddPortgroup(name string) {
	c.Portgroups[name] = migration.Portgroup{
		Ref:        migration.Ref{Type: "DistributedVirtualPortgroup", Value: "dvportgroup-" + name},
		Name:       name,
		Key:        "dvportgroup-" + name,
		SwitchUUID: "50 2a 9d 11",
	}
}

func (c *Compute) AddFolder(name string) {
	c.Folders[name] = append(c.Folders[name], migration.Folder{
		Ref:  migration.Ref{Type: "Folder", Value: fmt.Sprintf("group-v%s-%d", name, len(c.Folders[name]))},
		Name: name,
	})
}

func (c *Compute) fail(method string) error {
	return c.Errors[method]
}

func (c *Compute) FindVMs(_ context.Context, env migration.Environment, name string) ([]migration.VirtualMachine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("FindVMs"); err != nil {
		return nil, err
	}
	if env == migration.Destination {
		return c.DestinationVMs[name], nil
	}
	return c.SourceVMs[name], nil
}

func (c *Compute) FindCluster(_ context.Context, _ migration.Environment, name string) (*migration.Cluster, error) {
	if err := c.fail("FindCluster"); err != nil {
		return nil, err
	}
	cl, ok := c.Clusters[name]
	if !ok {
		return nil, migration.NewErrResourceNotFound("cluster", name)
	}
	return &cl, nil
}

func (c *Compute) ClusterHosts(_ context.Context, cluster migration.Cluster) ([]migration.Host, error) {
	if err := c.fail("ClusterHosts"); err != nil {
		return nil, err
	}
	return c.Hosts[cluster.Name], nil
}

func (c *Compute) StoragePodDatastores(_ context.Context, _ migration.Environment, pod string) ([]migration.Datastore, error) {
	if err := c.fail("StoragePodDatastores"); err != nil {
		return nil, err
	}
	ds, ok := c.StoragePods[pod]
	if !ok {
		return nil, migration.NewErrResourceNotFound("datastore cluster", pod)
	}
	return ds, nil
}

func (c *Compute) FindFolders(_ context.Context, _ migration.Environment, name string) ([]migration.Folder, error) {
	if err := c.fail("FindFolders"); err != nil {
		return nil, err
	}
	return c.Folders[name], nil
}

func (c *Compute) NetworkAdapters(_ context.Context, vm migration.VirtualMachine) ([]migration.NetworkAdapter, error) {
	if err := c.fail("NetworkAdapters"); err != nil {
		return nil, err
	}
	return c.Adapters[vm.Name], nil
}

func (c *Compute) FindPortgroup(_ context.Context, _ migration.Environment, name string) (*migration.Portgroup, error) {
	if err := c.fail("FindPortgroup"); err != nil {
		return nil, err
	}
	pg, ok := c.Portgroups[name]
	if !ok {
		return nil, migration.NewErrResourceNotFound("portgroup", name)
	}
	return &pg, nil
}

func (c *Compute) DetachMedia(_ context.Context, vm migration.VirtualMachine) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("DetachMedia"); err != nil {
		return 0, err
	}
	n := c.ISOs[vm.Name]
	c.ISOs[vm.Name] = 0
	c.Detached[vm.Name] += n
	return n, nil
}

func (c *Compute) Relocate(_ context.Context, vm migration.VirtualMachine, spec migration.RelocationSpec) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("Relocate"); err != nil {
		return "", err
	}
	id := fmt.Sprintf("task-%d", len(c.Relocations)+1)
	c.Relocations = append(c.Relocations, Relocation{VM: vm, Spec: spec, TaskID: id})
	c.tasks[id] = append([]TaskStep(nil), c.TaskScript...)
	c.pending[id] = vm
	return id, nil
}

func (c *Compute) Task(_ context.Context, id string) (*migration.TaskInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TaskReads[id]++
	if err := c.fail("Task"); err != nil {
		return nil, err
	}
	steps, ok := c.tasks[id]
	if !ok || len(steps) == 0 {
		return nil, fmt.Errorf("task %s read after its script ended", id)
	}
	step := steps[0]
	c.tasks[id] = steps[1:]
	if step.NotFound {
		return nil, migration.NewErrResourceNotFound("task", id)
	}
	if step.State == migration.TaskSuccess {
		if vm, ok := c.pending[id]; ok {
			delete(c.pending, id)
			c.DestinationVMs[vm.Name] = append(c.DestinationVMs[vm.Name], vm)
		}
	}
	return &migration.TaskInfo{ID: id, State: step.State, PercentComplete: step.Percent, Error: step.Error}, nil
}

func (c *Compute) SourceTag(_ context.Context, vm migration.VirtualMachine) (string, error) {
	if err := c.fail("SourceTag"); err != nil {
		return "", err
	}
	return c.Tags[vm.Name], nil
}

// SideEffects counts every mutating call the engine made.
func (c *Compute) SideEffects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.Relocations)
	for _, d := range c.Detached {
		n += d
	}
	return n
}

// Tenant is a fake tenant session keyed by OrgVDC name.
type Tenant struct {
	mu sync.Mutex

	VDCs     map[string]migration.OrgVDC
	VApps    map[string]map[string]migration.VApp
	Entries  map[string][]migration.MetadataEntry
	Imports  []string
	Creates  int
	Errors   map[string]error
	sequence int
}

func NewTenant() *Tenant {
	return &Tenant{
		VDCs:    map[string]migration.OrgVDC{},
		VApps:   map[string]map[string]migration.VApp{},
		Entries: map[string][]migration.MetadataEntry{},
		Errors:  map[string]error{},
	}
}

func (t *Tenant) AddOrgVDC(name string) {
	t.VDCs[name] = migration.OrgVDC{Ref: migration.Ref{Type: "vdc", Value: "urn:vcloud:vdc:" + name}, Name: name}
	t.VApps[name] = map[string]migration.VApp{}
}

func (t *Tenant) FindOrgVDC(_ context.Context, name string) (*migration.OrgVDC, error) {
	if err := t.Errors["FindOrgVDC"]; err != nil {
		return nil, err
	}
	vdc, ok := t.VDCs[name]
	if !ok {
		return nil, migration.NewErrResourceNotFound("org vdc", name)
	}
	return &vdc, nil
}

func (t *Tenant) FindVApp(_ context.Context, vdc migration.OrgVDC, name string) (*migration.VApp, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.Errors["FindVApp"]; err != nil {
		return nil, err
	}
	vapp, ok := t.VApps[vdc.Name][name]
	if !ok {
		return nil, migration.NewErrResourceNotFound("vapp", name)
	}
	return &vapp, nil
}

func (t *Tenant) ImportVM(_ context.Context, vdc migration.OrgVDC, _ migration.VirtualMachine, name string) (*migration.VApp, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.Errors["ImportVM"]; err != nil {
		return nil, err
	}
	t.sequence++
	vapp := migration.VApp{Ref: migration.Ref{Type: "vApp", Value: fmt.Sprintf("vapp-%d", t.sequence)}, Name: name}
	if t.VApps[vdc.Name] == nil {
		t.VApps[vdc.Name] = map[string]migration.VApp{}
	}
	t.VApps[vdc.Name][name] = vapp
	t.Imports = append(t.Imports, vdc.Name+"/"+name)
	return &vapp, nil
}

func (t *Tenant) CreateMetadata(_ context.Context, obj migration.Ref, entry migration.MetadataEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.Errors["CreateMetadata"]; err != nil {
		return err
	}
	t.Creates++
	t.Entries[obj.Value] = append(t.Entries[obj.Value], entry)
	return nil
}

func (t *Tenant) Metadata(_ context.Context, obj migration.Ref) ([]migration.MetadataEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.Errors["Metadata"]; err != nil {
		return nil, err
	}
	return t.Entries[obj.Value], nil
}

func (t *Tenant) DeleteMetadata(_ context.Context, obj migration.Ref, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.Entries[obj.Value][:0]
	for _, e := range t.Entries[obj.Value] {
		if e.Key != key {
			kept = append(kept, e)
		}
	}
	t.Entries[obj.Value] = kept
	return nil
}

var (
	_ migration.ComputeSession = &Compute{}
	_ migration.TenantSession  = &Tenant{}
)
