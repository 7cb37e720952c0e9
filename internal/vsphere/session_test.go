package vsphere

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/simulator"
	"github.com/vmware/govmomi/vapi/rest"
	"github.com/vmware/govmomi/vapi/tags"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"

	_ "github.com/vmware/govmomi/vapi/simulator"

	"github.com/kubev2v/vdc-migrator/internal/migration"
)

// simulateVCenter starts a vcsim inventory (DC0, cluster DC0_C0, DC0_DVPG0 ...) with the
// vAPI endpoints the tag lookup needs, and returns a session logged into both APIs.
func simulateVCenter(cfg Config, tweaks ...func(*simulator.Model)) (*Session, *govmomi.Client) {
	GinkgoHelper()

	model := simulator.VPX()
	for _, tweak := range tweaks {
		tweak(model)
	}
	Expect(model.Create()).To(Succeed())
	model.Service.RegisterEndpoints = true
	server := model.Service.NewServer()
	DeferCleanup(func() {
		server.Close()
		model.Remove()
	})

	ctx := context.Background()
	client, err := govmomi.NewClient(ctx, server.URL, true)
	Expect(err).To(BeNil())

	rc := rest.NewClient(client.Client)
	Expect(rc.Login(ctx, simulator.DefaultLogin)).To(Succeed())

	return NewSession(client, rc, cfg), client
}

func sourceVM(s *Session, name string) migration.VirtualMachine {
	GinkgoHelper()
	vms, err := s.FindVMs(context.TODO(), migration.Source, name)
	Expect(err).To(BeNil())
	Expect(vms).To(HaveLen(1))
	return vms[0]
}

func defaultFolders(client *govmomi.Client) *object.DatacenterFolders {
	GinkgoHelper()
	dc, err := find.NewFinder(client.Client, true).DefaultDatacenter(context.TODO())
	Expect(err).To(BeNil())
	folders, err := dc.Folders(context.TODO())
	Expect(err).To(BeNil())
	return folders
}

var _ = Describe("ParseURL", func() {
	It("defaults the sdk path and carries the credentials", func() {
		u, err := ParseURL("https://vcenter.example.com", "admin", "secret")
		Expect(err).To(BeNil())
		Expect(u.Path).To(Equal("/sdk"))
		Expect(u.User.Username()).To(Equal("admin"))
	})

	It("keeps an explicit path", func() {
		u, err := ParseURL("https://vcenter.example.com/custom", "admin", "secret")
		Expect(err).To(BeNil())
		Expect(u.Path).To(Equal("/custom"))
	})

	It("rejects a bare host name", func() {
		_, err := ParseURL("vcenter", "admin", "secret")
		Expect(err).ToNot(BeNil())
	})
})

var _ = Describe("Session", func() {
	Context("inventory", func() {
		It("finds a vm with its cluster and datastore", func() {
			s, _ := simulateVCenter(Config{})

			vm := sourceVM(s, "DC0_H0_VM0")
			Expect(vm.Name).To(Equal("DC0_H0_VM0"))
			Expect(vm.Ref.Type).To(Equal("VirtualMachine"))
			Expect(vm.Datastore).ToNot(BeEmpty())
			Expect(vm.Cluster).ToNot(BeEmpty())

			vms, err := s.FindVMs(context.TODO(), migration.Destination, "i_dont_exist")
			Expect(err).To(BeNil())
			Expect(vms).To(BeEmpty())
		})

		It("looks up source and destination in their own datacenter", func() {
			s, _ := simulateVCenter(Config{SourceDatacenter: "DC0", DestinationDatacenter: "DC1"},
				func(m *simulator.Model) { m.Datacenter = 2 })

			vms, err := s.FindVMs(context.TODO(), migration.Source, "DC0_H0_VM0")
			Expect(err).To(BeNil())
			Expect(vms).To(HaveLen(1))

			vms, err = s.FindVMs(context.TODO(), migration.Destination, "DC0_H0_VM0")
			Expect(err).To(BeNil())
			Expect(vms).To(BeEmpty())
		})

		It("reports an unknown datacenter as not found", func() {
			s, _ := simulateVCenter(Config{SourceDatacenter: "DC9"})

			_, err := s.FindVMs(context.TODO(), migration.Source, "DC0_H0_VM0")
			Expect(migration.IsNotFound(err)).To(BeTrue())
		})

		It("lists the hosts of a cluster", func() {
			s, _ := simulateVCenter(Config{})

			cluster, err := s.FindCluster(context.TODO(), migration.Destination, "DC0_C0")
			Expect(err).To(BeNil())
			Expect(cluster.Name).To(Equal("DC0_C0"))
			Expect(cluster.ResourcePool.Type).To(Equal("ResourcePool"))

			hosts, err := s.ClusterHosts(context.TODO(), *cluster)
			Expect(err).To(BeNil())
			Expect(hosts).ToNot(BeEmpty())
			for _, h := range hosts {
				Expect(h.Name).To(ContainSubstring("DC0_C0_H"))
				Expect(h.Ref.Type).To(Equal("HostSystem"))
			}

			_, err = s.FindCluster(context.TODO(), migration.Destination, "linux_cluster")
			Expect(migration.IsNotFound(err)).To(BeTrue())
		})

		It("finds every folder with the tenant name", func() {
			s, client := simulateVCenter(Config{})
			ctx := context.TODO()
			folders := defaultFolders(client)

			acme, err := folders.VmFolder.CreateFolder(ctx, "acme")
			Expect(err).To(BeNil())

			found, err := s.FindFolders(ctx, migration.Destination, "acme")
			Expect(err).To(BeNil())
			Expect(found).To(HaveLen(1))
			Expect(found[0].Ref.Value).To(Equal(acme.Reference().Value))

			tenants, err := folders.VmFolder.CreateFolder(ctx, "tenants")
			Expect(err).To(BeNil())
			_, err = tenants.CreateFolder(ctx, "acme")
			Expect(err).To(BeNil())

			found, err = s.FindFolders(ctx, migration.Destination, "acme")
			Expect(err).To(BeNil())
			Expect(found).To(HaveLen(2))

			found, err = s.FindFolders(ctx, migration.Destination, "globex")
			Expect(err).To(BeNil())
			Expect(found).To(BeEmpty())
		})

		It("lists the datastores of a storage pod", func() {
			s, client := simulateVCenter(Config{})
			ctx := context.TODO()

			_, err := defaultFolders(client).DatastoreFolder.CreateStoragePod(ctx, "pod-a")
			Expect(err).To(BeNil())

			datastores, err := s.StoragePodDatastores(ctx, migration.Destination, "pod-a")
			Expect(err).To(BeNil())
			Expect(datastores).To(BeEmpty())

			_, err = s.StoragePodDatastores(ctx, migration.Destination, "pod-missing")
			Expect(migration.IsNotFound(err)).To(BeTrue())
		})
	})

	Context("networks", func() {
		It("resolves a distributed portgroup", func() {
			s, _ := simulateVCenter(Config{})

			pg, err := s.FindPortgroup(context.TODO(), migration.Destination, "DC0_DVPG0")
			Expect(err).To(BeNil())
			Expect(pg.Name).To(Equal("DC0_DVPG0"))
			Expect(pg.Key).ToNot(BeEmpty())
			Expect(pg.SwitchUUID).ToNot(BeEmpty())

			_, err = s.FindPortgroup(context.TODO(), migration.Destination, "VLAN_200")
			Expect(migration.IsNotFound(err)).To(BeTrue())
		})

		It("ignores portgroups of another switch", func() {
			s, _ := simulateVCenter(Config{DestinationSwitch: "DVS-other"})

			_, err := s.FindPortgroup(context.TODO(), migration.Destination, "DC0_DVPG0")
			Expect(migration.IsNotFound(err)).To(BeTrue())
		})

		It("reads adapters and detaches nothing when no iso is mounted", func() {
			s, _ := simulateVCenter(Config{})
			vm := sourceVM(s, "DC0_H0_VM0")

			adapters, err := s.NetworkAdapters(context.TODO(), vm)
			Expect(err).To(BeNil())
			Expect(adapters).ToNot(BeEmpty())
			for _, a := range adapters {
				Expect(a.Label).ToNot(BeEmpty())
				Expect(a.Key).ToNot(BeZero())
			}

			n, err := s.DetachMedia(context.TODO(), vm)
			Expect(err).To(BeNil())
			Expect(n).To(BeZero())
		})
	})

	Context("relocation", func() {
		It("builds a spec that moves disks thin and rewires adapters", func() {
			s, client := simulateVCenter(Config{})
			vm := sourceVM(s, "DC0_H0_VM0")

			devices, err := object.NewVirtualMachine(client.Client, fromRef(vm.Ref)).Device(context.TODO())
			Expect(err).To(BeNil())
			adapters, err := s.NetworkAdapters(context.TODO(), vm)
			Expect(err).To(BeNil())

			spec := migration.RelocationSpec{
				Placement: migration.PlacementDecision{
					Host:         migration.Host{Ref: migration.Ref{Type: "HostSystem", Value: "host-1"}},
					Datastore:    migration.Datastore{Ref: migration.Ref{Type: "Datastore", Value: "datastore-1"}},
					Folder:       migration.Folder{Ref: migration.Ref{Type: "Folder", Value: "group-1"}},
					ResourcePool: migration.Ref{Type: "ResourcePool", Value: "resgroup-1"},
				},
				Networks: migration.NetworkMapping{{
					Adapter:         adapters[0],
					TargetPortgroup: migration.Portgroup{Key: "dvportgroup-9", SwitchUUID: "50 2a"},
				}},
				ThinProvisioned: true,
			}

			rs, err := relocateSpec(devices, spec)
			Expect(err).To(BeNil())
			Expect(rs.Host.Value).To(Equal("host-1"))
			Expect(rs.Datastore.Value).To(Equal("datastore-1"))
			Expect(rs.Pool.Value).To(Equal("resgroup-1"))
			Expect(rs.Folder.Value).To(Equal("group-1"))

			disks := devices.SelectByType((*types.VirtualDisk)(nil))
			Expect(rs.Disk).To(HaveLen(len(disks)))
			for _, d := range rs.Disk {
				backing, ok := d.DiskBackingInfo.(*types.VirtualDiskFlatVer2BackingInfo)
				Expect(ok).To(BeTrue())
				Expect(*backing.ThinProvisioned).To(BeTrue())
				Expect(d.Datastore.Value).To(Equal("datastore-1"))
			}

			Expect(rs.DeviceChange).To(HaveLen(1))
			change := rs.DeviceChange[0].GetVirtualDeviceConfigSpec()
			Expect(change.Operation).To(Equal(types.VirtualDeviceConfigSpecOperationEdit))
			card := change.Device.(types.BaseVirtualEthernetCard).GetVirtualEthernetCard()
			port := card.Backing.(*types.VirtualEthernetCardDistributedVirtualPortBackingInfo).Port
			Expect(port.PortgroupKey).To(Equal("dvportgroup-9"))
			Expect(port.SwitchUuid).To(Equal("50 2a"))

			spec.Networks[0].Adapter.Key = 99999
			_, err = relocateSpec(devices, spec)
			Expect(err).ToNot(BeNil())
		})

		It("relocates and polls the task to success", func() {
			s, client := simulateVCenter(Config{})
			ctx := context.TODO()
			vm := sourceVM(s, "DC0_H0_VM0")

			cluster, err := s.FindCluster(ctx, migration.Destination, "DC0_C0")
			Expect(err).To(BeNil())
			hosts, err := s.ClusterHosts(ctx, *cluster)
			Expect(err).To(BeNil())
			host, err := migration.SelectHost(hosts)
			Expect(err).To(BeNil())

			var current mo.VirtualMachine
			Expect(client.RetrieveOne(ctx, fromRef(vm.Ref), []string{"datastore"}, &current)).To(Succeed())
			Expect(current.Datastore).ToNot(BeEmpty())

			placement := migration.PlacementDecision{
				Host:         host,
				Datastore:    migration.Datastore{Ref: toRef(current.Datastore[0])},
				Folder:       migration.Folder{Ref: toRef(defaultFolders(client).VmFolder.Reference())},
				ResourcePool: cluster.ResourcePool,
			}

			id, err := s.Relocate(ctx, vm, migration.RelocationSpec{Placement: placement})
			Expect(err).To(BeNil())
			Expect(id).ToNot(BeEmpty())

			info, err := migration.NewExecutor(s, migration.WithPollInterval(10*time.Millisecond)).Wait(ctx, id)
			Expect(err).To(BeNil())
			Expect(info.State).To(Equal(migration.TaskSuccess))
			Expect(info.PercentComplete).To(Equal(int32(100)))
		})

		It("reports an unknown task as not found", func() {
			s, _ := simulateVCenter(Config{})

			_, err := s.Task(context.TODO(), "task-404")
			Expect(migration.IsNotFound(err)).To(BeTrue())
		})
	})

	Context("tags", func() {
		It("returns the first tag of the configured category", func() {
			s, client := simulateVCenter(Config{TagCategory: "backup"})
			ctx := context.TODO()
			vm := sourceVM(s, "DC0_H0_VM0")

			label, err := s.SourceTag(ctx, vm)
			Expect(err).To(BeNil())
			Expect(label).To(BeEmpty())

			m := tags.NewManager(s.rest)
			other, err := m.CreateCategory(ctx, &tags.Category{Name: "owner", Cardinality: "SINGLE", AssociableTypes: []string{"VirtualMachine"}})
			Expect(err).To(BeNil())
			backup, err := m.CreateCategory(ctx, &tags.Category{Name: "backup", Cardinality: "SINGLE", AssociableTypes: []string{"VirtualMachine"}})
			Expect(err).To(BeNil())
			ownerTag, err := m.CreateTag(ctx, &tags.Tag{Name: "team-a", CategoryID: other})
			Expect(err).To(BeNil())
			backupTag, err := m.CreateTag(ctx, &tags.Tag{Name: "tag1", CategoryID: backup})
			Expect(err).To(BeNil())

			ref := object.NewVirtualMachine(client.Client, fromRef(vm.Ref)).Reference()
			Expect(m.AttachTag(ctx, ownerTag, ref)).To(Succeed())
			Expect(m.AttachTag(ctx, backupTag, ref)).To(Succeed())

			label, err = s.SourceTag(ctx, vm)
			Expect(err).To(BeNil())
			Expect(label).To(Equal("tag1"))
			Expect(migration.ClassifyTag(label)).To(Equal(migration.BackupKey1))
		})
	})
})
