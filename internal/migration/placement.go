package migration

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// PlacementSelector picks the destination host and datastore with a greedy local
// decision per request. Nothing is reserved, so the batch must stay sequential.
type PlacementSelector struct {
	compute ComputeSession
}

func NewPlacementSelector(compute ComputeSession) *PlacementSelector {
	return &PlacementSelector{compute: compute}
}

func (s *PlacementSelector) Select(ctx context.Context, p *Preflight) (*PlacementDecision, error) {
	hosts, err := s.compute.ClusterHosts(ctx, p.Cluster)
	if err != nil {
		return nil, fmt.Errorf("listing hosts of cluster %s: %w", p.Cluster.Name, err)
	}
	host, err := SelectHost(hosts)
	if err != nil {
		return nil, fmt.Errorf("cluster %s: %w", p.Cluster.Name, err)
	}

	datastores, err := s.compute.StoragePodDatastores(ctx, Destination, p.Request.DatastoreClusterName)
	if err != nil {
		if IsNotFound(err) {
			return nil, NewErrPlacement("datastore cluster %s not found", p.Request.DatastoreClusterName)
		}
		return nil, fmt.Errorf("listing datastore cluster %s: %w", p.Request.DatastoreClusterName, err)
	}
	ds, err := SelectDatastore(datastores, p.VM.ProvisionedBytes)
	if err != nil {
		return nil, err
	}

	zap.S().Named("placement").Infof("vm %s: host %s (cpu %d MHz), datastore %s (%d GB free), folder %s",
		p.VM.Name, host.Name, host.CpuUsageMHz, ds.Name, ds.FreeBytes/1024/1024/1024, p.Folder.Name)

	return &PlacementDecision{
		Host:         host,
		Datastore:    ds,
		Folder:       p.Folder,
		ResourcePool: p.Cluster.ResourcePool,
	}, nil
}

// SelectHost returns the least CPU-loaded host, i.e. the tail of the list sorted by
// usage descending. On ties the host enumerated first wins.
func SelectHost(hosts []Host) (Host, error) {
	if len(hosts) == 0 {
		return Host{}, NewErrPlacement("no candidate host")
	}
	best := hosts[0]
	for _, h := range hosts[1:] {
		if h.CpuUsageMHz < best.CpuUsageMHz {
			best = h
		}
	}
	return best, nil
}

// SelectDatastore takes the datastore with the most free space. There is no spill-over:
// if that one is too small the request fails.
func SelectDatastore(datastores []Datastore, required int64) (Datastore, error) {
	if len(datastores) == 0 {
		return Datastore{}, NewErrPlacement("no candidate datastore")
	}
	sorted := make([]Datastore, len(datastores))
	copy(sorted, datastores)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].FreeBytes > sorted[j].FreeBytes
	})
	best := sorted[0]
	if best.FreeBytes < required {
		return Datastore{}, NewErrInsufficientCapacity(best.Name, best.FreeBytes, required)
	}
	return best, nil
}
