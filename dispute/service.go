package dispute

import "context"

// Service exposes the read side of the dispute subsystem. Opening and
// resolving disputes happens through the escrow lifecycle engine, which owns
// the transaction.
type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListByEscrow(ctx context.Context, escrowID string) ([]Record, error) {
	return s.repo.ListByEscrow(ctx, escrowID)
}
