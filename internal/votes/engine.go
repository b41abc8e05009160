package votes

import (
	"context"
	"errors"
	"sync"

	"github.com/upnvj-forum/forum-sync/internal/cache"
	"go.uber.org/zap"
)

const (
	opToggle = "votes.toggle"
	opSettle = "votes.settle"
)

var (
	errMissingSubmitter = errors.New("votes: submitter is required")
	errMissingCache     = errors.New("votes: cache store is required")
)

// Submitter sends a vote to the server and returns the canonical entity.
type Submitter interface {
	SubmitVote(ctx context.Context, ref EntityRef, direction Direction) (VotableEntity, error)
}

// EngineConfig describes the dependencies of an Engine.
type EngineConfig struct {
	Submitter  Submitter
	Cache      *cache.Store
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Engine owns the optimistic vote state of every entity the viewer interacts with.
//
// Toggles apply synchronously. Confirmations for one entity are sent one at a
// time in issue order, so a later toggle is always computed from the optimistic
// result of the earlier ones and resolved after them. A rejected toggle restores
// its snapshot and the toggles queued behind it are re-applied on top of it.
type Engine struct {
	mu         sync.Mutex
	submitter  Submitter
	cache      *cache.Store
	idProvider IDProvider
	logger     *zap.Logger
	entities   map[EntityRef]*entityState
}

type entityState struct {
	confirmed VoteState
	current   VoteState
	queue     []*pendingToggle
	draining  bool
	// written is the cache version of the engine's last tally write.
	written uint64
}

type pendingToggle struct {
	ctx     context.Context
	command *Command
	ticket  *Ticket
}

// NewEngine constructs an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Submitter == nil {
		return nil, errMissingSubmitter
	}
	if cfg.Cache == nil {
		return nil, errMissingCache
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		submitter:  cfg.Submitter,
		cache:      cfg.Cache,
		idProvider: idProvider,
		logger:     logger,
		entities:   make(map[EntityRef]*entityState),
	}, nil
}

// Track seeds the server baseline of an entity. It is ignored while toggles
// on the entity are pending so an older server read cannot clobber them.
func (e *Engine) Track(entity VotableEntity) error {
	if _, err := NewEntityRef(entity.Ref.Kind, entity.Ref.ID); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.entities[entity.Ref]
	if ok && len(state.queue) > 0 {
		return nil
	}
	baseline := StateFromTally(entity.Tally())
	state = &entityState{confirmed: baseline, current: baseline}
	e.entities[entity.Ref] = state
	e.writeTallyLocked(entity.Ref, state)
	return nil
}

// State returns the optimistic state of an entity.
func (e *Engine) State(ref EntityRef) (VotableEntity, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.entities[ref]
	if !ok {
		return VotableEntity{}, false
	}
	return VotableEntity{Ref: ref, VoteState: state.current}, true
}

// Pending returns the number of unconfirmed toggles for an entity.
func (e *Engine) Pending(ref EntityRef) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.entities[ref]
	if !ok {
		return 0
	}
	return len(state.queue)
}

// Toggle applies a vote optimistically and schedules its confirmation. The
// returned ticket carries the optimistic state and resolves once the server
// has answered. When the entity was never tracked, or no toggle is pending and
// a fresher server tally has been cached since the engine's last write, the
// baseline is read from the cache.
func (e *Engine) Toggle(ctx context.Context, ref EntityRef, direction Direction) (*Ticket, error) {
	if _, err := NewEntityRef(ref.Kind, ref.ID); err != nil {
		return nil, err
	}
	command, err := NewToggleCommand(direction)
	if err != nil {
		return nil, err
	}
	ticketID, err := e.idProvider.NewID()
	if err != nil {
		e.logError(opToggle, "id_generation_failed", err, zap.String("entity", ref.String()))
		return nil, err
	}

	e.mu.Lock()
	state, ok := e.entities[ref]
	if !ok {
		tally, found := cache.Lookup[cache.VoteTally](e.cache, ref.VotesKey())
		if !found {
			e.mu.Unlock()
			return nil, ErrUnknownEntity
		}
		baseline := StateFromTally(tally)
		state = &entityState{confirmed: baseline, current: baseline}
		e.entities[ref] = state
	} else if len(state.queue) == 0 {
		e.rebaseLocked(ref, state)
	}

	state.current = command.Apply(state.current)
	ticket := newTicket(ticketID, ref, direction, state.current)
	state.queue = append(state.queue, &pendingToggle{ctx: context.WithoutCancel(ctx), command: command, ticket: ticket})
	e.writeTallyLocked(ref, state)
	startDrain := !state.draining
	state.draining = true
	e.mu.Unlock()

	e.logger.Debug("vote applied optimistically",
		zap.String("ticket_id", ticketID),
		zap.String("entity", ref.String()),
		zap.Int("direction", int(direction)),
		zap.Int("upvotes", ticket.optimistic.Upvotes),
		zap.Int("downvotes", ticket.optimistic.Downvotes))

	if startDrain {
		go e.drain(ref, state)
	}
	return ticket, nil
}

// Forget detaches an entity. Confirmations already in flight complete but
// their results are discarded and their tickets resolve with ErrDiscarded.
func (e *Engine) Forget(ref EntityRef) {
	e.mu.Lock()
	var dropped []*pendingToggle
	if state, ok := e.entities[ref]; ok {
		delete(e.entities, ref)
		dropped = detachQueuedLocked(state)
	}
	e.mu.Unlock()
	resolveDiscarded(ref, dropped)
}

// Reset forgets every entity. Used on logout.
func (e *Engine) Reset() {
	e.mu.Lock()
	detached := e.entities
	e.entities = make(map[EntityRef]*entityState)
	dropped := make(map[EntityRef][]*pendingToggle, len(detached))
	for ref, state := range detached {
		dropped[ref] = detachQueuedLocked(state)
	}
	e.mu.Unlock()
	for ref, pending := range dropped {
		resolveDiscarded(ref, pending)
	}
}

// detachQueuedLocked removes the toggles that were never sent. The toggle at
// the head of the queue is in flight and is resolved by its drain goroutine.
func detachQueuedLocked(state *entityState) []*pendingToggle {
	if len(state.queue) <= 1 {
		return nil
	}
	dropped := append([]*pendingToggle(nil), state.queue[1:]...)
	state.queue = state.queue[:1]
	return dropped
}

func resolveDiscarded(ref EntityRef, dropped []*pendingToggle) {
	for _, pending := range dropped {
		pending.ticket.resolve(VotableEntity{Ref: ref}, ErrDiscarded)
	}
}

// rebaseLocked adopts a server tally cached after the engine's last write, so
// an idle entity starts its next toggle from the last known server values.
func (e *Engine) rebaseLocked(ref EntityRef, state *entityState) {
	entry, found := e.cache.Get(ref.VotesKey())
	if !found || entry.Stale || entry.Version <= state.written {
		return
	}
	tally, ok := entry.Value.(cache.VoteTally)
	if !ok {
		return
	}
	baseline := StateFromTally(tally)
	state.confirmed = baseline
	state.current = baseline
	state.written = entry.Version
}

func (e *Engine) writeTallyLocked(ref EntityRef, state *entityState) {
	state.written = e.cache.Set(ref.VotesKey(), state.current.Tally())
}

func (e *Engine) drain(ref EntityRef, state *entityState) {
	for {
		e.mu.Lock()
		if len(state.queue) == 0 {
			state.draining = false
			e.mu.Unlock()
			return
		}
		head := state.queue[0]
		e.mu.Unlock()

		canonical, err := e.submitter.SubmitVote(head.ctx, ref, head.command.Direction())
		e.settle(ref, state, head, canonical, err)
	}
}

func (e *Engine) settle(ref EntityRef, state *entityState, head *pendingToggle, canonical VotableEntity, submitErr error) {
	e.mu.Lock()
	state.queue = state.queue[1:]
	if e.entities[ref] != state {
		e.mu.Unlock()
		e.logger.Debug("vote result discarded for detached entity",
			zap.String("ticket_id", head.ticket.id),
			zap.String("entity", ref.String()))
		head.ticket.resolve(VotableEntity{Ref: ref}, ErrDiscarded)
		return
	}

	if submitErr == nil {
		if canonical.Ref == ref {
			state.confirmed = StateFromTally(canonical.Tally())
		} else {
			state.confirmed = head.command.Result()
		}
		state.current = e.replay(state.confirmed, state.queue)
	} else {
		state.current = e.replay(head.command.Rollback(), state.queue)
	}
	settled := VotableEntity{Ref: ref, VoteState: state.current}
	drained := len(state.queue) == 0
	e.writeTallyLocked(ref, state)
	e.mu.Unlock()

	e.invalidateRelated(ref, drained)

	if submitErr != nil {
		e.logError(opSettle, "vote_rejected", submitErr,
			zap.String("ticket_id", head.ticket.id),
			zap.String("entity", ref.String()),
			zap.Int("direction", int(head.command.Direction())))
		head.ticket.resolve(settled, &VoteError{
			TicketID:  head.ticket.id,
			Ref:       ref,
			Direction: head.command.Direction(),
			Err:       submitErr,
		})
		return
	}
	head.ticket.resolve(settled, nil)
}

// replay re-applies queued toggles on top of base in issue order.
func (e *Engine) replay(base VoteState, queue []*pendingToggle) VoteState {
	current := base
	for _, pending := range queue {
		current = pending.command.Apply(current)
	}
	return current
}

// invalidateRelated marks every cached rendering that embeds the entity stale.
// The entity's own tally is only invalidated once no toggle is pending, so a
// page fetch cannot replace an optimistic tally that is still in play.
func (e *Engine) invalidateRelated(ref EntityRef, drained bool) {
	e.cache.Invalidate(ref.EntityKey())
	e.cache.Invalidate(cache.NewKey(ref.family()))
	if drained {
		e.cache.Invalidate(ref.VotesKey())
	}
	if ref.Kind == KindComment {
		e.cache.Invalidate(cache.FamilyCommentReplies)
	}
}

func (e *Engine) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	e.logger.Warn("vote engine error", attrs...)
}
