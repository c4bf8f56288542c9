package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/spothive/spothive/pkg/domain"
)

// StaticProvider is an in-memory implementation of all four provider
// interfaces, loaded from fixed tables. It backs tests and the one-shot
// dry-run CLI, where live provider plumbing is out of scope.
type StaticProvider struct {
	mu sync.RWMutex

	SpotPrices     map[string]float64 // keyed by pool key
	OnDemandPrices map[string]float64
	Hardware       map[string]domain.HardwareSpec // keyed by instance type
	Frequencies    map[string]float64             // keyed by pool key
	Signals        map[string]domain.Signal       // keyed by pool key
	RegionTypes    map[string][]string            // region -> instance types
	RegionZones    map[string][]string            // region -> zones
}

// NewStaticProvider returns an empty provider ready to be populated.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		SpotPrices:     make(map[string]float64),
		OnDemandPrices: make(map[string]float64),
		Hardware:       make(map[string]domain.HardwareSpec),
		Frequencies:    make(map[string]float64),
		Signals:        make(map[string]domain.Signal),
		RegionTypes:    make(map[string][]string),
		RegionZones:    make(map[string][]string),
	}
}

func (s *StaticProvider) SpotPrice(_ context.Context, pool domain.Pool) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.SpotPrices[pool.Key()]
	if !ok {
		return 0, fmt.Errorf("no spot price for pool %s", pool.ID())
	}
	return price, nil
}

func (s *StaticProvider) OnDemandPrice(_ context.Context, pool domain.Pool) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.OnDemandPrices[pool.Key()]
	if !ok {
		return 0, fmt.Errorf("no on-demand price for pool %s", pool.ID())
	}
	return price, nil
}

func (s *StaticProvider) HardwareSpec(_ context.Context, instanceType string) (domain.HardwareSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.Hardware[instanceType]
	if !ok {
		return domain.HardwareSpec{}, fmt.Errorf("no hardware spec for instance type %s", instanceType)
	}
	return spec, nil
}

func (s *StaticProvider) InstanceTypes(_ context.Context, region string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	types, ok := s.RegionTypes[region]
	if !ok {
		return nil, fmt.Errorf("no instance types for region %s", region)
	}
	return append([]string(nil), types...), nil
}

func (s *StaticProvider) Zones(_ context.Context, region string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	zones, ok := s.RegionZones[region]
	if !ok {
		return nil, fmt.Errorf("no zones for region %s", region)
	}
	return append([]string(nil), zones...), nil
}

func (s *StaticProvider) InterruptionFrequency(_ context.Context, pool domain.Pool) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	freq, ok := s.Frequencies[pool.Key()]
	if !ok {
		return 0, fmt.Errorf("no advisor data for pool %s", pool.ID())
	}
	return freq, nil
}

func (s *StaticProvider) CurrentSignal(_ context.Context, instance domain.Pool) (domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sig, ok := s.Signals[instance.Key()]; ok {
		return sig, nil
	}
	return domain.SignalNone, nil
}

// SetSignal updates the signal a later CurrentSignal call will report.
func (s *StaticProvider) SetSignal(instance domain.Pool, sig domain.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Signals[instance.Key()] = sig
}
