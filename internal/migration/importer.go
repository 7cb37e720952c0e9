package migration

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type ImportResult struct {
	VDC       OrgVDC
	VApp      VApp
	Duplicate bool
}

// Importer brings a relocated VM under tenant management. At most one import happens
// per (vm name, OrgVDC): an existing vApp with the same name makes the call a no-op.
type Importer struct {
	tenant TenantSession
}

func NewImporter(tenant TenantSession) *Importer {
	return &Importer{tenant: tenant}
}

func (i *Importer) Import(ctx context.Context, req Request, osClass OsClass, vm VirtualMachine) (*ImportResult, error) {
	vdcName := OrgVDCName(req.TenantID, req.TenantName, string(osClass))
	vdc, err := i.tenant.FindOrgVDC(ctx, vdcName)
	if err != nil {
		return nil, fmt.Errorf("looking up org vdc %s: %w", vdcName, err)
	}

	log := zap.S().Named("importer")
	existing, err := i.tenant.FindVApp(ctx, *vdc, vm.Name)
	switch {
	case err == nil:
		log.Infof("vapp %s already exists in %s, skipping import", vm.Name, vdc.Name)
		return &ImportResult{VDC: *vdc, VApp: *existing, Duplicate: true}, nil
	case !IsNotFound(err):
		return nil, fmt.Errorf("looking up vapp %s in %s: %w", vm.Name, vdc.Name, err)
	}

	vapp, err := i.tenant.ImportVM(ctx, *vdc, vm, vm.Name)
	if err != nil {
		return nil, fmt.Errorf("importing %s into %s: %w", vm.Name, vdc.Name, err)
	}
	log.Infof("vm %s imported into %s as %s", vm.Name, vdc.Name, vapp.Ref)
	return &ImportResult{VDC: *vdc, VApp: *vapp}, nil
}
