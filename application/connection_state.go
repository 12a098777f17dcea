package application

import "sync/atomic"

type ConnectionEvent int

const (
	EventConnected ConnectionEvent = iota
	EventError
	EventClosed
	EventTopicsChanged
)

func (e ConnectionEvent) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	case EventTopicsChanged:
		return "topics-changed"
	default:
		return "unknown"
	}
}

type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateConnectedUnsubscribed
	StateConnectedSubscribed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateConnectedUnsubscribed:
		return "connected-unsubscribed"
	case StateConnectedSubscribed:
		return "connected-subscribed"
	default:
		return "unknown"
	}
}

// ConnectionState tracks the connected and subscribed conditions shared
// between the engine callback, producers and the bridge loop.
//
// Subscribed is derived from an invalidation epoch: every connect,
// disconnect or registry change bumps the epoch, and a resubscription pass
// only counts if the epoch it started from is still current when it ends.
type ConnectionState struct {
	tracksSubscriptions bool

	connected atomic.Bool
	epoch     atomic.Uint64
	applied   atomic.Uint64
}

// NewConnectionState creates a state machine starting in StateDisconnected.
// Publisher bridges pass false and never report a subscription dimension.
func NewConnectionState(tracksSubscriptions bool) *ConnectionState {
	s := &ConnectionState{tracksSubscriptions: tracksSubscriptions}
	s.epoch.Store(1)
	return s
}

// Apply performs the transition for ev and returns the resulting state.
func (s *ConnectionState) Apply(ev ConnectionEvent) State {
	switch ev {
	case EventConnected:
		s.epoch.Add(1)
		s.connected.Store(true)
	case EventError, EventClosed:
		s.connected.Store(false)
		s.epoch.Add(1)
	case EventTopicsChanged:
		s.epoch.Add(1)
	}
	return s.State()
}

func (s *ConnectionState) State() State {
	if !s.connected.Load() {
		return StateDisconnected
	}
	if !s.tracksSubscriptions {
		return StateConnected
	}
	if s.Subscribed() {
		return StateConnectedSubscribed
	}
	return StateConnectedUnsubscribed
}

func (s *ConnectionState) Connected() bool {
	return s.connected.Load()
}

// Subscribed reports whether the registry has been fully applied to the
// current connection.
func (s *ConnectionState) Subscribed() bool {
	return s.connected.Load() && s.applied.Load() == s.epoch.Load()
}

// BeginResubscribe returns the epoch a resubscription pass is working
// against. The registry must be read after this call.
func (s *ConnectionState) BeginResubscribe() uint64 {
	return s.epoch.Load()
}

// CompleteResubscribe marks the subscriptions applied. It returns false
// when the state was invalidated during the pass and another pass is due.
func (s *ConnectionState) CompleteResubscribe(epoch uint64) bool {
	s.applied.Store(epoch)
	return s.Subscribed()
}
