package providers

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/spothive/spothive/pkg/domain"
)

// Catalog is the on-disk form of a static provider: pool prices and advisor
// data, hardware specs per instance type, and discovery tables per region.
type Catalog struct {
	Pools []CatalogPool `yaml:"pools"`

	Hardware map[string]domain.HardwareSpec `yaml:"hardware"`

	Regions map[string]CatalogRegion `yaml:"regions"`
}

// CatalogPool is one pool's pricing and advisor row.
type CatalogPool struct {
	Region                string  `yaml:"region"`
	Zone                  string  `yaml:"zone"`
	InstanceType          string  `yaml:"instance_type"`
	SpotPrice             float64 `yaml:"spot_price"`
	OnDemandPrice         float64 `yaml:"on_demand_price"`
	InterruptionFrequency float64 `yaml:"interruption_frequency"`
	Signal                string  `yaml:"signal,omitempty"`
}

// CatalogRegion lists a region's discoverable zones and instance types.
type CatalogRegion struct {
	Zones         []string `yaml:"zones"`
	InstanceTypes []string `yaml:"instance_types"`
}

// LoadStatic reads a catalog file into a ready static provider.
func LoadStatic(path string) (*StaticProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}

	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}

	sp := NewStaticProvider()
	for _, p := range cat.Pools {
		pool := domain.Pool{Region: p.Region, Zone: p.Zone, InstanceType: p.InstanceType}
		if err := pool.Validate(); err != nil {
			return nil, fmt.Errorf("catalog pool: %w", err)
		}
		sp.SpotPrices[pool.Key()] = p.SpotPrice
		sp.OnDemandPrices[pool.Key()] = p.OnDemandPrice
		sp.Frequencies[pool.Key()] = p.InterruptionFrequency
		if p.Signal != "" {
			sp.Signals[pool.Key()] = domain.Signal(p.Signal)
		}
	}
	for instanceType, spec := range cat.Hardware {
		sp.Hardware[instanceType] = spec
	}
	for region, r := range cat.Regions {
		sp.RegionZones[region] = r.Zones
		sp.RegionTypes[region] = r.InstanceTypes
	}
	return sp, nil
}
