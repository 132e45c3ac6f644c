package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Routing (runtime).
	ErrNoWorker   = "E_NO_WORKER"
	ErrWorkerLost = "E_WORKER_LOST"
	ErrRateLimit  = "E_RATE_LIMIT"

	// Command layer (worker).
	ErrBadRequest       = "E_BAD_REQUEST"
	ErrNotFound         = "E_NOT_FOUND"
	ErrNotAuthoritative = "E_NOT_AUTHORITATIVE"
	ErrNoCandidate      = "E_NO_CANDIDATE"
	ErrInternal         = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:  {},
	ErrNoWorker:         {},
	ErrWorkerLost:       {},
	ErrRateLimit:        {},
	ErrBadRequest:       {},
	ErrNotFound:         {},
	ErrNotAuthoritative: {},
	ErrNoCandidate:      {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
