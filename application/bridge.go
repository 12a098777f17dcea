package application

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

type BridgeRole int

const (
	RolePublisher BridgeRole = iota
	RoleSubscriber
)

func (r BridgeRole) String() string {
	switch r {
	case RolePublisher:
		return "publisher"
	case RoleSubscriber:
		return "subscriber"
	default:
		return "unknown"
	}
}

const (
	// DefaultTickInterval matches a 100Hz scheduler tick.
	DefaultTickInterval      = 10 * time.Millisecond
	DefaultQoS               = byte(1)
	DefaultMaxPublishPerTick = 1
)

type BridgeParams struct {
	Role   BridgeRole
	Client MQTTClient

	// publisher
	Outbound *OutboundQueue

	// subscriber
	Inbound  *InboundQueue
	Registry *TopicRegistry

	// State is created when nil. A subscriber's Registry must share it.
	State *ConnectionState

	QoS               byte
	TickInterval      time.Duration
	ReconnectInterval time.Duration
	MaxPublishPerTick int

	Clock clock.Clock

	Log zerolog.Logger
}

func (p *BridgeParams) EnsureDefaults() {
	if p.QoS == 0 {
		p.QoS = DefaultQoS
	}

	if p.TickInterval == 0 {
		p.TickInterval = DefaultTickInterval
	}

	if p.ReconnectInterval == 0 {
		if p.Role == RoleSubscriber {
			p.ReconnectInterval = DefaultSubscriberReconnectInterval
		} else {
			p.ReconnectInterval = DefaultPublisherReconnectInterval
		}
	}

	if p.MaxPublishPerTick <= 0 {
		p.MaxPublishPerTick = DefaultMaxPublishPerTick
	}

	if p.Clock == nil {
		p.Clock = clock.New()
	}

	if p.State == nil {
		p.State = NewConnectionState(p.Role == RoleSubscriber)
	}
}

// Bridge owns one protocol engine connection. Its loop is the only
// goroutine that calls into the engine; producers and consumers talk to it
// through the queues and the registry.
type Bridge struct {
	params BridgeParams

	state     *ConnectionState
	reconnect *ReconnectPolicy

	log zerolog.Logger
}

func NewBridge(params BridgeParams) (*Bridge, error) {
	if params.Client == nil {
		return nil, fmt.Errorf("MQTTClient is nil")
	}

	switch params.Role {
	case RolePublisher:
		if params.Outbound == nil {
			return nil, fmt.Errorf("publisher bridge requires an OutboundQueue")
		}
	case RoleSubscriber:
		if params.Inbound == nil {
			return nil, fmt.Errorf("subscriber bridge requires an InboundQueue")
		}
		if params.Registry == nil {
			return nil, fmt.Errorf("subscriber bridge requires a TopicRegistry")
		}
		if params.Registry.state == nil {
			return nil, fmt.Errorf("TopicRegistry has no ConnectionState")
		}
		if params.State != nil && params.Registry.state != params.State {
			return nil, fmt.Errorf("TopicRegistry and bridge must share the ConnectionState")
		}
		if params.State == nil {
			params.State = params.Registry.state
		}
	default:
		return nil, fmt.Errorf("unknown bridge role: %d", params.Role)
	}

	params.EnsureDefaults()

	return &Bridge{
		params:    params,
		state:     params.State,
		reconnect: NewReconnectPolicy(params.ReconnectInterval, params.Clock),
		log:       params.Log,
	}, nil
}

func (b *Bridge) Role() BridgeRole {
	return b.params.Role
}

func (b *Bridge) State() *ConnectionState {
	return b.state
}

func (b *Bridge) Outbound() *OutboundQueue {
	return b.params.Outbound
}

func (b *Bridge) Inbound() *InboundQueue {
	return b.params.Inbound
}

func (b *Bridge) Registry() *TopicRegistry {
	return b.params.Registry
}

func (b *Bridge) Status() MQTTStatus {
	return b.params.Client.Status()
}

// Run connects and drives the loop, one step per tick, until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	b.log.Info().
		Dur("tick", b.params.TickInterval).
		Dur("reconnect_interval", b.params.ReconnectInterval).
		Msg("bridge started")
	defer b.log.Info().Msg("bridge stopped")

	b.connect()

	ticker := b.params.Clock.Ticker(b.params.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.params.Client.Disconnect()
			return nil
		case <-ticker.C:
			b.step()
		}
	}
}

func (b *Bridge) step() {
	if b.state.Connected() {
		switch b.params.Role {
		case RolePublisher:
			b.publishPending()
		case RoleSubscriber:
			if !b.state.Subscribed() {
				b.resubscribe()
			}
		}
		b.reconnect.Reset()
	} else if b.reconnect.Due() {
		b.log.Warn().Dur("interval", b.reconnect.Interval()).Msg("still disconnected, reconnecting")
		b.connect()
	}

	b.params.Client.Poll()
}

func (b *Bridge) connect() {
	if err := b.params.Client.Connect(b.HandleEvent); err != nil {
		b.log.Error().Err(err).Msg("connect request failed")
	}
}

func (b *Bridge) publishPending() {
	for i := 0; i < b.params.MaxPublishPerTick; i++ {
		e, ok := b.params.Outbound.TryPop()
		if !ok {
			return
		}
		b.publish(e)
	}
}

func (b *Bridge) publish(e *Envelope) {
	defer e.Release()

	topic, payload, err := e.Decode()
	if err != nil {
		b.log.Error().Err(err).Msg("unreadable publication discarded")
		return
	}

	if err := b.params.Client.Publish(string(topic), b.params.QoS, false, payload); err != nil {
		b.log.Error().Err(err).Bytes("topic", topic).Msg("publish failed")
		return
	}

	b.log.Debug().Bytes("topic", topic).Int("payload_len", len(payload)).Msg("published")
}

func (b *Bridge) resubscribe() {
	epoch := b.state.BeginResubscribe()

	b.log.Info().Int("topics", b.params.Registry.Len()).Msg("populating topics")
	b.params.Registry.ForEach(func(topic string) {
		if err := b.params.Client.Subscribe(topic, b.params.QoS); err != nil {
			b.log.Error().Err(err).Str("topic", topic).Msg("subscribe failed")
			return
		}
		b.log.Info().Str("topic", topic).Msg("registering topic")
	})

	if !b.state.CompleteResubscribe(epoch) {
		b.log.Debug().Msg("subscriptions changed during pass, repeating")
	}
}

// HandleEvent is the engine callback. It translates engine events into
// connection state transitions and feeds received messages to the inbound
// queue without blocking.
func (b *Bridge) HandleEvent(ev MQTTEvent) {
	recovered := panics.Try(func() {
		b.handleEvent(ev)
	})
	if recovered != nil {
		b.log.Error().Err(recovered.AsError()).Str("event", ev.Type.String()).Msg("event handler panic recovered")
	}
}

func (b *Bridge) handleEvent(ev MQTTEvent) {
	switch ev.Type {
	case MQTTEventConnected:
		st := b.state.Apply(EventConnected)
		b.log.Info().Str("state", st.String()).Msg("connected")
	case MQTTEventError:
		st := b.state.Apply(EventError)
		b.log.Error().Err(fmt.Errorf("%w: %v", ErrConnection, ev.Err)).Str("state", st.String()).Msg("connection error")
	case MQTTEventClosed:
		st := b.state.Apply(EventClosed)
		b.log.Warn().Err(ev.Err).Str("state", st.String()).Msg("connection closed")
	case MQTTEventMessage:
		if b.params.Role != RoleSubscriber {
			b.log.Info().Str("topic", ev.Topic).Int("payload_len", len(ev.Payload)).Msg("received")
			return
		}
		// Offer logs its own failures; the message is simply lost.
		_ = b.params.Inbound.Offer([]byte(ev.Topic), ev.Payload)
	}
}
