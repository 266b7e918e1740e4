package pairing

import "errors"

var (
	ErrMemberExists    = errors.New("member already active for discovery key")
	ErrCandidateExists = errors.New("candidate already active for discovery key")
	ErrClosed          = errors.New("pairing closed")
	ErrNoDiscoveryKey  = errors.New("missing discovery key")
	ErrBadDiscoveryKey = errors.New("discovery key has the wrong length")
)
