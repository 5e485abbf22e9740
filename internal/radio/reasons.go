package radio

// DisconnectReason classifies a failed connection.
type DisconnectReason int

const (
	ReasonUnspecified DisconnectReason = iota
	ReasonTimeout
	ReasonFailedToEstablish
	ReasonFailedBeforeInitializing
	ReasonTerminated
	ReasonTooManyClients
)

// Platform status codes.
const (
	StatusTimeout                  = 8
	StatusTerminated               = 22
	StatusFailedToEstablish        = 62
	StatusFailedBeforeInitializing = 133
	StatusTooManyClients           = 257
)

// ReasonFromStatus maps a platform status code to a reason.
func ReasonFromStatus(status int) DisconnectReason {
	switch status {
	case StatusTimeout:
		return ReasonTimeout
	case StatusTerminated:
		return ReasonTerminated
	case StatusFailedToEstablish:
		return ReasonFailedToEstablish
	case StatusFailedBeforeInitializing:
		return ReasonFailedBeforeInitializing
	case StatusTooManyClients:
		return ReasonTooManyClients
	default:
		return ReasonUnspecified
	}
}

// Exhausted reports whether the reason signals connection resource
// exhaustion on the adapter.
func (r DisconnectReason) Exhausted() bool {
	return r == ReasonTerminated || r == ReasonTooManyClients
}

func (r DisconnectReason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonFailedToEstablish:
		return "failed to establish"
	case ReasonFailedBeforeInitializing:
		return "failed before initializing"
	case ReasonTerminated:
		return "terminated, likely too many connections"
	case ReasonTooManyClients:
		return "too many clients"
	default:
		return "unspecified error"
	}
}
