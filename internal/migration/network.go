package migration

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// NetworkMapper resolves each source adapter to the destination portgroup that carries
// the same (sanitized) name. The two fabrics share a naming convention, not identities.
type NetworkMapper struct {
	compute ComputeSession
}

func NewNetworkMapper(compute ComputeSession) *NetworkMapper {
	return &NetworkMapper{compute: compute}
}

func (m *NetworkMapper) Map(ctx context.Context, adapters []NetworkAdapter) (NetworkMapping, error) {
	mapping := make(NetworkMapping, 0, len(adapters))
	resolved := map[string]Portgroup{}

	for _, a := range adapters {
		target := SanitizeNetworkName(a.NetworkName)
		if target == "" {
			return nil, NewErrNetworkResolution(a.Label, a.NetworkName, fmt.Errorf("adapter has no network"))
		}

		pg, ok := resolved[target]
		if !ok {
			found, err := m.compute.FindPortgroup(ctx, Destination, target)
			if err != nil {
				return nil, NewErrNetworkResolution(a.Label, a.NetworkName, err)
			}
			pg = *found
			resolved[target] = pg
		}

		zap.S().Named("network").Debugf("adapter %s: %s -> %s", a.Label, a.NetworkName, pg.Name)
		mapping = append(mapping, AdapterMapping{
			Adapter:         a,
			SourceNetwork:   a.NetworkName,
			TargetNetwork:   target,
			TargetPortgroup: pg,
		})
	}

	return mapping, nil
}
