package votes

// Transition applies one toggle to state following the single-vote-per-viewer
// rules: repeating the current vote retracts it, voting from no vote casts it,
// and voting against the current vote switches it.
func Transition(state VoteState, direction Direction) VoteState {
	next := state
	switch {
	case state.ViewerVote == direction:
		next.ViewerVote = DirectionNone
		next = adjust(next, direction, -1)
	case state.ViewerVote == DirectionNone:
		next.ViewerVote = direction
		next = adjust(next, direction, 1)
	default:
		next.ViewerVote = direction
		next = adjust(next, direction, 1)
		next = adjust(next, state.ViewerVote, -1)
	}
	return next
}

func adjust(state VoteState, direction Direction, delta int) VoteState {
	if direction == DirectionUp {
		state.Upvotes = nonNegative(state.Upvotes + delta)
	} else {
		state.Downvotes = nonNegative(state.Downvotes + delta)
	}
	return state
}

// Command is one optimistic toggle together with its compensating action.
// Apply records the state it was applied to so Rollback can restore it verbatim.
// A command may be re-applied when an earlier command in the chain is rolled back.
type Command struct {
	direction Direction
	snapshot  VoteState
	result    VoteState
}

// NewToggleCommand validates direction and returns an unapplied command.
func NewToggleCommand(direction Direction) (*Command, error) {
	if _, err := NewDirection(int(direction)); err != nil {
		return nil, err
	}
	return &Command{direction: direction}, nil
}

// Apply records state as the rollback snapshot and returns the toggled state.
func (c *Command) Apply(state VoteState) VoteState {
	c.snapshot = state
	c.result = Transition(state, c.direction)
	return c.result
}

// Rollback returns the snapshot recorded by the last Apply.
func (c *Command) Rollback() VoteState {
	return c.snapshot
}

// Direction returns the toggle direction.
func (c *Command) Direction() Direction {
	return c.direction
}

// Result returns the state produced by the last Apply.
func (c *Command) Result() VoteState {
	return c.result
}
