package cache

// VoteTally is the cache projection of an entity's vote aggregate. The vote
// engine writes optimistic tallies; feed pages write server tallies only over
// missing or stale entries so an optimistic value is never clobbered by an
// older page.
type VoteTally struct {
	Upvotes    int
	Downvotes  int
	ViewerVote int
}

// Score returns upvotes minus downvotes.
func (t VoteTally) Score() int {
	return t.Upvotes - t.Downvotes
}

// StoreTallyIfStale writes tally under key unless a fresh tally is already present.
func (s *Store) StoreTallyIfStale(key Key, tally VoteTally) bool {
	return s.Update(key, func(current Entry, found bool) (any, bool) {
		if found && !current.Stale {
			if _, ok := current.Value.(VoteTally); ok {
				return nil, false
			}
		}
		return tally, true
	})
}
