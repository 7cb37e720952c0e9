package migration_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kubev2v/vdc-migrator/internal/migration"
	"github.com/kubev2v/vdc-migrator/internal/migration/migrationtest"
)

type memoryJournal struct {
	mu       sync.Mutex
	outcomes []migration.Outcome
}

func (j *memoryJournal) Append(ctx context.Context, o migration.Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcomes = append(j.outcomes, o)
	return nil
}

var _ = Describe("Orchestrator", func() {
	var (
		compute *migrationtest.Compute
		tenant  *migrationtest.Tenant
		journal *memoryJournal
		orch    *migration.Orchestrator
		ctx     context.Context
	)

	request := func(name, osType string) migration.Request {
		return migration.Request{
			VMName:               name,
			OsClass:              osType,
			DatastoreClusterName: "pod-a",
			TenantName:           "acme",
			TenantID:             "100",
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		compute = migrationtest.NewCompute()
		tenant = migrationtest.NewTenant()
		journal = &memoryJournal{}

		compute.AddCluster("linux_cluster",
			migration.Host{Name: "esx1", CpuUsageMHz: 4200},
			migration.Host{Name: "esx2", CpuUsageMHz: 900})
		compute.AddCluster("sql_cluster", migration.Host{Name: "esx9", CpuUsageMHz: 100})
		compute.StoragePods["pod-a"] = []migration.Datastore{
			{Name: "ds1", FreeBytes: 500 * gb},
			{Name: "ds2", FreeBytes: 900 * gb},
		}
		compute.AddFolder("acme")
		compute.AddPortgroup("VLAN100")
		compute.AddPortgroup("VLAN_200")
		tenant.AddOrgVDC("100-Acme-Linux")
		tenant.AddOrgVDC("100-Acme-Sql")

		orch = migration.NewOrchestrator(compute, tenant, migration.Options{
			NetworkMode:     migration.NetworkModeSingle,
			PollInterval:    time.Millisecond,
			ThinProvisioned: true,
			Journal:         journal,
		})
	})

	Context("happy path", func() {
		BeforeEach(func() {
			compute.AddVM(migration.VirtualMachine{Name: "app01", Cluster: "old-cluster", Datastore: "old-ds", ProvisionedBytes: 120 * gb}, "VLAN100")
			compute.Tags["app01"] = "Tag2"
			compute.ISOs["app01"] = 1
		})

		It("moves, imports and tags the vm", func() {
			outcomes := orch.Run(ctx, []migration.Request{request("app01", "Linux")})
			Expect(outcomes).To(HaveLen(1))

			out := outcomes[0]
			Expect(out.Status).To(Equal(migration.StatusCompleted))
			Expect(out.Stage).To(Equal(migration.StageDone))
			Expect(out.Reason).To(BeEmpty())
			Expect(out.SourceCluster).To(Equal("old-cluster"))
			Expect(out.SourceDatastore).To(Equal("old-ds"))
			Expect(out.SourceTag).To(Equal("Tag2"))
			Expect(out.SourceNetworks).To(Equal([]string{"VLAN100"}))
			Expect(out.SizeGB).To(Equal(int64(120)))
			Expect(out.RunID).To(Equal(orch.RunID()))
			Expect(out.Reportable()).To(BeTrue())

			Expect(compute.Detached["app01"]).To(Equal(1))
			Expect(compute.Relocations).To(HaveLen(1))
			spec := compute.Relocations[0].Spec
			Expect(spec.Placement.Host.Name).To(Equal("esx2"))
			Expect(spec.Placement.Datastore.Name).To(Equal("ds2"))
			Expect(spec.Placement.Folder.Name).To(Equal("acme"))
			Expect(spec.ThinProvisioned).To(BeTrue())
			Expect(spec.Networks).To(HaveLen(1))
			Expect(spec.Networks[0].TargetPortgroup.Name).To(Equal("VLAN100"))

			Expect(tenant.Imports).To(Equal([]string{"100-Acme-Linux/app01"}))
			vapp := tenant.VApps["100-Acme-Linux"]["app01"]
			entries := tenant.Entries[vapp.Ref.Value]
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Key).To(Equal("Backup_2"))
			Expect(entries[0].Value.Type).To(Equal(migration.ValueDateTime))
			Expect(entries[0].Visibility).To(Equal(migration.VisibilityGeneral))
		})

		It("is idempotent when the batch is run again", func() {
			first := orch.Run(ctx, []migration.Request{request("app01", "linux")})
			Expect(first[0].Status).To(Equal(migration.StatusCompleted))

			second := orch.Run(ctx, []migration.Request{request("app01", "linux")})
			Expect(second[0].Status).To(Equal(migration.StatusSkipped))
			Expect(second[0].Reason).To(ContainSubstring(string(migration.AlreadyMigrated)))

			Expect(compute.Relocations).To(HaveLen(1))
			Expect(tenant.Imports).To(HaveLen(1))
			Expect(tenant.Creates).To(Equal(1))
		})

		It("does not add a second backup entry when the vapp already carries it", func() {
			tenant.VApps["100-Acme-Linux"]["app01"] = migration.VApp{Ref: migration.Ref{Type: "vApp", Value: "vapp-existing"}, Name: "app01"}
			tenant.Entries["vapp-existing"] = []migration.MetadataEntry{{Key: "Backup_2", Value: migration.TypedValue{Type: migration.ValueString, Value: "x"}}}

			out := orch.Process(ctx, request("app01", "linux"))
			Expect(out.Status).To(Equal(migration.StatusCompleted))
			Expect(tenant.Imports).To(BeEmpty())
			Expect(tenant.Creates).To(BeZero())
			Expect(out.Notes).To(ContainElement(ContainSubstring("already present")))
		})

		It("journals every outcome", func() {
			orch.Run(ctx, []migration.Request{request("app01", "linux"), request("ghost", "linux")})
			Expect(journal.outcomes).To(HaveLen(2))
			Expect(journal.outcomes[0].Status).To(Equal(migration.StatusCompleted))
			Expect(journal.outcomes[1].Status).To(Equal(migration.StatusSkipped))
		})
	})

	Context("validation failures", func() {
		It("skips an unknown os type without touching anything", func() {
			compute.AddVM(migration.VirtualMachine{Name: "app02", ProvisionedBytes: 10 * gb}, "VLAN100")

			out := orch.Process(ctx, request("app02", "solaris"))
			Expect(out.Status).To(Equal(migration.StatusSkipped))
			Expect(out.Stage).To(Equal(migration.StageValidation))
			Expect(out.Reason).To(ContainSubstring(string(migration.UnknownOsClass)))
			Expect(out.Reportable()).To(BeFalse())
			Expect(compute.SideEffects()).To(BeZero())
			Expect(tenant.Imports).To(BeEmpty())
		})

		It("skips a vm that already lives in the destination", func() {
			compute.AddVM(migration.VirtualMachine{Name: "web01"}, "VLAN100")
			compute.DestinationVMs["web01"] = []migration.VirtualMachine{{Name: "web01"}}

			out := orch.Process(ctx, request("web01", "windows"))
			Expect(out.Status).To(Equal(migration.StatusSkipped))
			Expect(out.Reason).To(HavePrefix(string(migration.AlreadyMigrated)))
			Expect(compute.SideEffects()).To(BeZero())
		})

		It("keeps going after a failing request", func() {
			compute.AddVM(migration.VirtualMachine{Name: "app03", ProvisionedBytes: 10 * gb}, "VLAN100")

			outcomes := orch.Run(ctx, []migration.Request{request("ghost", "linux"), request("app03", "linux")})
			Expect(outcomes).To(HaveLen(2))
			Expect(outcomes[0].Status).To(Equal(migration.StatusSkipped))
			Expect(outcomes[1].Status).To(Equal(migration.StatusCompleted))
		})
	})

	Context("placement and network failures", func() {
		It("does not relocate when no datastore can take the vm", func() {
			compute.AddVM(migration.VirtualMachine{Name: "big01", ProvisionedBytes: 2000 * gb}, "VLAN100")

			out := orch.Process(ctx, request("big01", "linux"))
			Expect(out.Status).To(Equal(migration.StatusSkipped))
			Expect(out.Stage).To(Equal(migration.StagePlacement))
			Expect(out.Reason).To(ContainSubstring("InsufficientCapacity"))
			Expect(compute.Relocations).To(BeEmpty())
		})

		It("reports the adapter that could not be resolved", func() {
			compute.AddVM(migration.VirtualMachine{Name: "app04", ProvisionedBytes: 10 * gb}, "VLAN999")

			out := orch.Process(ctx, request("app04", "linux"))
			Expect(out.Status).To(Equal(migration.StatusSkipped))
			Expect(out.Stage).To(Equal(migration.StageNetwork))
			Expect(out.Reportable()).To(BeTrue())
			Expect(out.SourceNetworks).To(Equal([]string{"VLAN999"}))
			Expect(out.Reason).To(ContainSubstring("Network adapter 1"))
			Expect(compute.Relocations).To(BeEmpty())
		})

		It("maps every adapter of a multi homed vm in multi network mode", func() {
			orch = migration.NewOrchestrator(compute, tenant, migration.Options{
				NetworkMode:  migration.NetworkModeMulti,
				PollInterval: time.Millisecond,
			})
			compute.AddVM(migration.VirtualMachine{Name: "db02", ProvisionedBytes: 50 * gb}, "VLAN100", "VLAN|200")

			out := orch.Process(ctx, request("db02", "sql"))
			Expect(out.Status).To(Equal(migration.StatusCompleted))
			networks := compute.Relocations[0].Spec.Networks
			Expect(networks).To(HaveLen(2))
			Expect(networks[1].TargetPortgroup.Name).To(Equal("VLAN_200"))
			Expect(tenant.Imports).To(Equal([]string{"100-Acme-Sql/db02"}))
		})
	})

	Context("execution and tenant failures", func() {
		BeforeEach(func() {
			compute.AddVM(migration.VirtualMachine{Name: "app05", ProvisionedBytes: 10 * gb}, "VLAN100")
		})

		It("fails without importing when the relocation task errors", func() {
			compute.TaskScript = []migrationtest.TaskStep{
				{State: migration.TaskRunning, Percent: 40},
				{State: migration.TaskError, Error: "host disconnected"},
			}

			out := orch.Process(ctx, request("app05", "linux"))
			Expect(out.Status).To(Equal(migration.StatusFailed))
			Expect(out.Stage).To(Equal(migration.StageExecution))
			Expect(out.Reason).To(ContainSubstring("host disconnected"))
			Expect(tenant.Imports).To(BeEmpty())
		})

		It("fails at import when the org vdc is missing", func() {
			delete(tenant.VDCs, "100-Acme-Linux")

			out := orch.Process(ctx, request("app05", "linux"))
			Expect(out.Status).To(Equal(migration.StatusFailed))
			Expect(out.Stage).To(Equal(migration.StageImport))
			Expect(compute.Relocations).To(HaveLen(1))
		})

		It("leaves metadata out for an unmapped tag", func() {
			compute.Tags["app05"] = "gold"

			out := orch.Process(ctx, request("app05", "linux"))
			Expect(out.Status).To(Equal(migration.StatusCompleted))
			Expect(tenant.Creates).To(BeZero())
		})

		It("fails at the metadata stage when the tenant refuses the entry", func() {
			compute.Tags["app05"] = "tag1"
			tenant.Errors["CreateMetadata"] = errors.New("forbidden")

			out := orch.Process(ctx, request("app05", "linux"))
			Expect(out.Status).To(Equal(migration.StatusFailed))
			Expect(out.Stage).To(Equal(migration.StageMetadata))
			Expect(out.Reason).To(ContainSubstring("forbidden"))
		})

		It("keeps going when media cannot be detached", func() {
			compute.Errors["DetachMedia"] = errors.New("device busy")

			out := orch.Process(ctx, request("app05", "linux"))
			Expect(out.Status).To(Equal(migration.StatusCompleted))
			Expect(out.Notes).To(ContainElement(ContainSubstring("device busy")))
		})
	})

	It("stops before the next request once the context is cancelled", func() {
		compute.AddVM(migration.VirtualMachine{Name: "app06"}, "VLAN100")
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		outcomes := orch.Run(cancelled, []migration.Request{request("app06", "linux")})
		Expect(outcomes).To(BeEmpty())
		Expect(compute.SideEffects()).To(BeZero())
	})

	It("journals the outcome of the request interrupted mid-flight", func() {
		compute.AddVM(migration.VirtualMachine{Name: "app07", ProvisionedBytes: 10 * gb}, "VLAN100")
		compute.TaskScript = []migrationtest.TaskStep{
			{State: migration.TaskRunning, Percent: 10},
			{State: migration.TaskSuccess, Percent: 100},
		}
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		out := orch.Process(cancelled, request("app07", "linux"))
		Expect(out.Status).To(Equal(migration.StatusFailed))
		Expect(out.Stage).To(Equal(migration.StageExecution))
		Expect(journal.outcomes).To(HaveLen(1))
		Expect(journal.outcomes[0].VMName).To(Equal("app07"))
		Expect(journal.outcomes[0].Status).To(Equal(migration.StatusFailed))
	})
})
