package votes

import (
	"context"
	"sync"
)

// Ticket tracks one toggle from optimistic apply to settlement.
type Ticket struct {
	id         string
	ref        EntityRef
	direction  Direction
	optimistic VoteState

	once   sync.Once
	done   chan struct{}
	result VotableEntity
	err    error
}

func newTicket(id string, ref EntityRef, direction Direction, optimistic VoteState) *Ticket {
	return &Ticket{
		id:         id,
		ref:        ref,
		direction:  direction,
		optimistic: optimistic,
		done:       make(chan struct{}),
	}
}

// ID returns the ticket identifier.
func (t *Ticket) ID() string {
	return t.id
}

// Optimistic returns the state applied locally when the toggle was issued.
func (t *Ticket) Optimistic() VotableEntity {
	return VotableEntity{Ref: t.ref, VoteState: t.optimistic}
}

// Done is closed once the toggle has settled.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the toggle settles or ctx ends. On success the entity
// state after confirmation is returned; on failure the rolled-back state and
// a *VoteError (or ErrDiscarded).
func (t *Ticket) Wait(ctx context.Context) (VotableEntity, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return VotableEntity{}, ctx.Err()
	}
}

func (t *Ticket) resolve(result VotableEntity, err error) {
	t.once.Do(func() {
		t.result = result
		t.err = err
		close(t.done)
	})
}
