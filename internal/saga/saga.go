package saga

import "context"

// Undo reverses one already-completed step of a multi-system operation.
type Undo func(ctx context.Context)

// Saga accumulates undo actions as the steps of a cross-system operation
// succeed. When a later step fails, Compensate reverses the completed ones.
// It replaces ad-hoc try/finally sprinkling for work that spans systems
// which cannot share a transaction (seat locks in Redis vs. rows in
// Postgres).
type Saga struct {
	undos []Undo
}

func New() *Saga {
	return &Saga{}
}

// Add registers the undo for a step that just succeeded.
func (s *Saga) Add(u Undo) {
	s.undos = append(s.undos, u)
}

// Compensate runs the registered undos in reverse order. Undo actions are
// best effort and must not panic; errors are the undo's own business.
func (s *Saga) Compensate(ctx context.Context) {
	for i := len(s.undos) - 1; i >= 0; i-- {
		s.undos[i](ctx)
	}
	s.undos = nil
}
