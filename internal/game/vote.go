// internal/game/vote.go
package game

// VoteRound is the client-side reflection of a single voting round. The
// server does the authoritative tallying; this only decides which targets are
// rendered and enforces the local one-vote guard. A fresh round is built each
// time voting opens, including every tie-break re-run, and discarded when the
// phase leaves Voting.
type VoteRound struct {
	// Eligible is the ordered target list. The caller is excluded
	// unconditionally, so a self-vote control simply never exists.
	Eligible []string

	// Voted is the target this client voted for, empty until cast.
	Voted string

	// Tied holds the candidates of the previous round when this round is a
	// tie-break re-run, empty otherwise.
	Tied []string
}

// newVoteRound builds a round over the given candidate names, excluding self.
func newVoteRound(names []string, self string, tied []string) *VoteRound {
	r := &VoteRound{Tied: tied}
	for _, n := range names {
		if n != self {
			r.Eligible = append(r.Eligible, n)
		}
	}
	return r
}

// cast records this client's vote. It returns false without effect if the
// round already has a vote or the target is not eligible, so a second attempt
// is a no-op; the server remains the final arbiter of one vote per player.
func (r *VoteRound) cast(target string) bool {
	if r.Voted != "" {
		return false
	}
	for _, n := range r.Eligible {
		if n == target {
			r.Voted = target
			return true
		}
	}
	return false
}
