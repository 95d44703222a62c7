package health

import (
	"context"
	"time"

	corehealth "3tcapital/telescope/internal/core/health"
)

// DefaultCheckTimeout bounds each dependency probe.
const DefaultCheckTimeout = 2 * time.Second

// Metadata contains immutable metadata about the running service.
type Metadata struct {
	Service     string
	Version     string
	Environment string
}

// Check probes one dependency. A nil error means it is reachable.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Service exposes health-check use cases to adapters.
type Service struct {
	meta      Metadata
	checks    []Check
	timeout   time.Duration
	startedAt time.Time
}

func NewService(meta Metadata, checks ...Check) *Service {
	return &Service{
		meta:      meta,
		checks:    checks,
		timeout:   DefaultCheckTimeout,
		startedAt: time.Now().UTC(),
	}
}

// Status returns the current availability snapshot. The service is degraded
// when any dependency probe fails.
func (s *Service) Status(ctx context.Context) corehealth.Status {
	uptime := time.Since(s.startedAt)
	status := corehealth.Status{
		Service:     s.meta.Service,
		Version:     s.meta.Version,
		Environment: s.meta.Environment,
		Status:      corehealth.StatusUp,
		StartedAt:   s.startedAt,
		Uptime:      uptime.String(),
		UptimeSecs:  int64(uptime.Seconds()),
	}

	for _, check := range s.checks {
		dep := s.probe(ctx, check)
		if dep.Status != corehealth.StatusUp {
			status.Status = corehealth.StatusDegraded
		}
		status.Dependencies = append(status.Dependencies, dep)
	}
	return status
}

func (s *Service) probe(ctx context.Context, check Check) corehealth.Dependency {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := check.Probe(ctx)
	dep := corehealth.Dependency{
		Name:      check.Name,
		Status:    corehealth.StatusUp,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		dep.Status = corehealth.StatusDown
		dep.Error = err.Error()
	}
	return dep
}
