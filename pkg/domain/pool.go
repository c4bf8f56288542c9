package domain

import "fmt"

// Pool identifies a spot-market supply unit: one instance type in one
// availability zone of one region. Interruption evidence and pricing are
// tracked at this granularity.
type Pool struct {
	Region       string `yaml:"region" json:"region"`
	Zone         string `yaml:"zone" json:"zone"`
	InstanceType string `yaml:"instance_type" json:"instance_type"`
}

// Key returns the candidate identity key used throughout the pipeline.
func (p Pool) Key() string {
	return p.Zone + ":" + p.InstanceType
}

// ID returns the fully qualified pool identifier.
func (p Pool) ID() string {
	return fmt.Sprintf("%s/%s/%s", p.Region, p.Zone, p.InstanceType)
}

// IsZero reports whether the pool is unset.
func (p Pool) IsZero() bool {
	return p.Region == "" && p.Zone == "" && p.InstanceType == ""
}

// Validate checks that all three coordinates are present.
func (p Pool) Validate() error {
	if p.Region == "" || p.Zone == "" || p.InstanceType == "" {
		return fmt.Errorf("%w: pool requires region, zone and instance type, got %q", ErrInvalidRequest, p.ID())
	}
	return nil
}

// HardwareSpec describes the capacity of an instance type.
type HardwareSpec struct {
	VCPU         int     `yaml:"vcpu" json:"vcpu"`
	MemoryGiB    float64 `yaml:"memory_gib" json:"memory_gib"`
	Architecture string  `yaml:"architecture" json:"architecture"`
}

// Meets reports whether the spec satisfies the stated minimums. An empty
// required architecture matches any architecture.
func (h HardwareSpec) Meets(req ResourceRequirements) bool {
	if h.VCPU < req.MinVCPU {
		return false
	}
	if h.MemoryGiB < req.MinMemoryGiB {
		return false
	}
	if req.Architecture != "" && h.Architecture != req.Architecture {
		return false
	}
	return true
}

// ResourceRequirements states the minimum hardware a workload needs.
type ResourceRequirements struct {
	MinVCPU      int     `yaml:"min_vcpu" json:"min_vcpu"`
	MinMemoryGiB float64 `yaml:"min_memory_gib" json:"min_memory_gib"`
	Architecture string  `yaml:"architecture" json:"architecture"`
}
