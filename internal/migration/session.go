package migration

import (
	"context"
)

// ComputeSession is the capability surface of the compute-virtualization API.
type ComputeSession interface {
	// FindVMs returns every VM with the given name in the environment. Uniqueness is
	// checked by the caller.
	FindVMs(ctx context.Context, env Environment, name string) ([]VirtualMachine, error)
	FindCluster(ctx context.Context, env Environment, name string) (*Cluster, error)
	ClusterHosts(ctx context.Context, cluster Cluster) ([]Host, error)
	StoragePodDatastores(ctx context.Context, env Environment, pod string) ([]Datastore, error)
	FindFolders(ctx context.Context, env Environment, name string) ([]Folder, error)
	NetworkAdapters(ctx context.Context, vm VirtualMachine) ([]NetworkAdapter, error)
	FindPortgroup(ctx context.Context, env Environment, name string) (*Portgroup, error)
	// DetachMedia ejects any ISO backed cdrom and returns how many were ejected.
	DetachMedia(ctx context.Context, vm VirtualMachine) (int, error)
	Relocate(ctx context.Context, vm VirtualMachine, spec RelocationSpec) (string, error)
	Task(ctx context.Context, id string) (*TaskInfo, error)
	// SourceTag returns the name of the classification tag attached to the VM, or ""
	// when there is none.
	SourceTag(ctx context.Context, vm VirtualMachine) (string, error)
}

// TenantSession is the capability surface of the tenant-management API.
type TenantSession interface {
	FindOrgVDC(ctx context.Context, name string) (*OrgVDC, error)
	FindVApp(ctx context.Context, vdc OrgVDC, name string) (*VApp, error)
	ImportVM(ctx context.Context, vdc OrgVDC, vm VirtualMachine, name string) (*VApp, error)
	CreateMetadata(ctx context.Context, obj Ref, entry MetadataEntry) error
	Metadata(ctx context.Context, obj Ref) ([]MetadataEntry, error)
	DeleteMetadata(ctx context.Context, obj Ref, key string) error
}
