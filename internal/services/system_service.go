package services

import (
	"context"
	"errors"

	"github.com/costline/materialcache/internal/domain"
	"github.com/costline/materialcache/internal/repositories"
)

var errSystemHealthRepositoryRequired = errors.New("system: health repository is required")

// SystemServiceDeps wires the health repository.
type SystemServiceDeps struct {
	Health repositories.HealthRepository
}

type systemService struct {
	health repositories.HealthRepository
}

// NewSystemService constructs the readiness aggregator.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.Health == nil {
		return nil, errSystemHealthRepositoryRequired
	}
	return &systemService{health: deps.Health}, nil
}

func (s *systemService) Health(ctx context.Context) (domain.SystemHealthReport, error) {
	return s.health.Collect(ctx)
}
