package migration

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type NetworkMode string

const (
	// NetworkModeSingle expects exactly one distinct network on the VM.
	NetworkModeSingle NetworkMode = "single"
	// NetworkModeMulti maps every adapter individually.
	NetworkModeMulti NetworkMode = "multi"
)

// PolicyGate evaluates site policies against a VM about to be moved and returns the
// blocking violations.
type PolicyGate interface {
	Violations(ctx context.Context, input any) ([]string, error)
}

// Preflight is what a successful validation resolved. Later stages reuse it so the
// remote inventory is read once per request.
type Preflight struct {
	Request  Request
	OsClass  OsClass
	VM       VirtualMachine
	Adapters []NetworkAdapter
	Cluster  Cluster
	Folder   Folder
}

type Validator struct {
	compute ComputeSession
	pools   ResourcePools
	mode    NetworkMode
	policy  PolicyGate
}

func NewValidator(compute ComputeSession, pools ResourcePools, mode NetworkMode, policy PolicyGate) *Validator {
	if mode == "" {
		mode = NetworkModeSingle
	}
	return &Validator{compute: compute, pools: pools, mode: mode, policy: policy}
}

// Validate runs the preflight checks in order and stops at the first failure. It has
// no side effects on either environment.
func (v *Validator) Validate(ctx context.Context, req Request) (*Preflight, error) {
	p := &Preflight{Request: req}

	vms, err := v.compute.FindVMs(ctx, Source, req.VMName)
	if err != nil && !IsNotFound(err) {
		return nil, fmt.Errorf("looking up source vm %s: %w", req.VMName, err)
	}
	switch len(vms) {
	case 0:
		return nil, NewErrValidation(SourceNotFound, "vm %s not found in source environment", req.VMName)
	case 1:
		p.VM = vms[0]
	default:
		return nil, NewErrValidation(SourceNotFound, "vm name %s is not unique in source environment (%d matches)", req.VMName, len(vms))
	}

	existing, err := v.compute.FindVMs(ctx, Destination, req.VMName)
	if err != nil && !IsNotFound(err) {
		return nil, fmt.Errorf("looking up destination vm %s: %w", req.VMName, err)
	}
	if len(existing) > 0 {
		return nil, NewErrValidation(AlreadyMigrated, "vm %s already exists in destination environment", req.VMName)
	}

	p.OsClass = ParseOsClass(req.OsClass)
	clusterName, ok := v.pools.Lookup(p.OsClass)
	if !ok {
		return nil, NewErrValidation(UnknownOsClass, "os type %q is not one of windows, linux, sql", req.OsClass)
	}

	adapters, err := v.compute.NetworkAdapters(ctx, p.VM)
	if err != nil {
		return nil, fmt.Errorf("listing network adapters of %s: %w", req.VMName, err)
	}
	if err := v.checkNetworks(req.VMName, adapters); err != nil {
		return nil, err
	}
	p.Adapters = adapters

	cluster, err := v.compute.FindCluster(ctx, Destination, clusterName)
	if err != nil {
		if IsNotFound(err) {
			return nil, NewErrValidation(DestinationPoolNotFound, "cluster %s not found", clusterName)
		}
		return nil, fmt.Errorf("looking up cluster %s: %w", clusterName, err)
	}
	p.Cluster = *cluster

	folders, err := v.compute.FindFolders(ctx, Destination, req.TenantName)
	if err != nil && !IsNotFound(err) {
		return nil, fmt.Errorf("looking up folder %s: %w", req.TenantName, err)
	}
	switch len(folders) {
	case 0:
		return nil, NewErrValidation(FolderNotFound, "no folder named %s in destination environment", req.TenantName)
	case 1:
		p.Folder = folders[0]
	default:
		return nil, NewErrValidation(AmbiguousFolder, "%d folders named %s in destination environment", len(folders), req.TenantName)
	}

	if v.policy != nil {
		violations, err := v.policy.Violations(ctx, policyInput(p))
		if err != nil {
			return nil, fmt.Errorf("evaluating policies for %s: %w", req.VMName, err)
		}
		if len(violations) > 0 {
			return nil, NewErrValidation(PolicyViolation, "%s", strings.Join(violations, "; "))
		}
	}

	zap.S().Named("validator").Debugf("vm %s passed preflight: cluster=%s folder=%s adapters=%d", req.VMName, p.Cluster.Name, p.Folder.Name, len(p.Adapters))
	return p, nil
}

func (v *Validator) checkNetworks(vmName string, adapters []NetworkAdapter) error {
	if v.mode == NetworkModeMulti {
		return nil
	}
	distinct := map[string]struct{}{}
	for _, a := range adapters {
		if a.NetworkName != "" {
			distinct[a.NetworkName] = struct{}{}
		}
	}
	switch len(distinct) {
	case 0:
		return NewErrValidation(NoNetwork, "vm %s has no attached network", vmName)
	case 1:
		return nil
	default:
		return NewErrValidation(MultipleNetworks, "vm %s is attached to %d networks", vmName, len(distinct))
	}
}

func policyInput(p *Preflight) map[string]any {
	networks := make([]string, 0, len(p.Adapters))
	for _, a := range p.Adapters {
		networks = append(networks, a.NetworkName)
	}
	return map[string]any{
		"name":            p.VM.Name,
		"osClass":         string(p.OsClass),
		"sourceCluster":   p.VM.Cluster,
		"sourceDatastore": p.VM.Datastore,
		"sizeGB":          p.VM.SizeGB(),
		"networks":        networks,
		"tenant":          p.Request.TenantName,
		"tenantId":        p.Request.TenantID,
		"storagePod":      p.Request.DatastoreClusterName,
		"cluster":         p.Cluster.Name,
	}
}
