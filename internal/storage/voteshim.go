package storage

import "context"

// voteShim wraps a Storage that does not implement a vote phase, making
// TPCVote a no-op that returns no oids.
type voteShim struct {
	Storage
}

// WithVoteShim installs the shim if st doesn't support vote, returning st
// unchanged otherwise.
func WithVoteShim(st Storage) Storage {
	if st.SupportsVote() {
		return st
	}
	return voteShim{Storage: st}
}

func (voteShim) TPCVote(ctx context.Context, txn *Transaction) ([][]byte, error) {
	return nil, nil
}

func (voteShim) SupportsVote() bool { return true }
