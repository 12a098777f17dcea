package adapters

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mqtt-queue-bridge/application"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	MQTTDefaultConnectTimeout  = 30 * time.Second
	MQTTDefaultKeepAlive       = 60 * time.Second
	MQTTDefaultMaxPendingToken = 1000

	MQTTDefaultWillTopic   = "WILL"
	MQTTDefaultWillPayload = "goodbye"
	MQTTDefaultWillQoS     = byte(1)
)

var (
	ErrMQTTNotConnected = fmt.Errorf("not connected")
)

type MQTTClientParams struct {
	ClientID string
	Username string
	Password string
	MQTTUrl  string

	WillTopic   string
	WillPayload string
	WillQoS     byte

	ConnectTimeout  time.Duration
	KeepAlive       time.Duration
	MaxPendingToken int

	NewClientFunc func(options *mqtt.ClientOptions) mqtt.Client

	Log zerolog.Logger
}

// ConnectTimeoutWithin caps the connect timeout at half of the reconnect
// interval so an attempt gives up before the next one replaces it.
func ConnectTimeoutWithin(reconnectInterval time.Duration) time.Duration {
	t := reconnectInterval / 2
	if t <= 0 || t > MQTTDefaultConnectTimeout {
		return MQTTDefaultConnectTimeout
	}
	return t
}

func (m *MQTTClientParams) EnsureDefaults() {
	if m.WillTopic == "" {
		m.WillTopic = MQTTDefaultWillTopic
	}

	if m.WillPayload == "" {
		m.WillPayload = MQTTDefaultWillPayload
	}

	if m.WillQoS == 0 {
		m.WillQoS = MQTTDefaultWillQoS
	}

	if m.ConnectTimeout == 0 {
		m.ConnectTimeout = MQTTDefaultConnectTimeout
	}

	if m.KeepAlive == 0 {
		m.KeepAlive = MQTTDefaultKeepAlive
	}

	if m.MaxPendingToken == 0 {
		m.MaxPendingToken = MQTTDefaultMaxPendingToken
	}

	if m.NewClientFunc == nil {
		m.NewClientFunc = mqtt.NewClient
	}
}

type pendingOp int

const (
	pendingPublish pendingOp = iota
	pendingSubscribe
)

type pendingToken struct {
	op    pendingOp
	topic string
	token mqtt.Token
}

// MQTTClient drives a paho client without ever waiting on it. Connect,
// Publish and Subscribe return as soon as paho has accepted the request;
// Poll collects the outcomes.
type MQTTClient struct {
	params MQTTClientParams

	// emitMu keeps a generation change from landing between an event's
	// liveness check and its delivery.
	emitMu sync.Mutex

	mu      sync.RWMutex
	client  mqtt.Client
	handler application.MQTTEventHandler
	gen     uint64

	pending []pendingToken

	connected          atomic.Bool
	msgCount           atomic.Uint64
	msgCountUpdateTime atomic.Pointer[time.Time]

	log zerolog.Logger
}

func NewMQTTClient(params MQTTClientParams) *MQTTClient {
	params.EnsureDefaults()

	m := &MQTTClient{params: params, log: params.Log}

	t := time.Unix(0, 0)
	m.msgCountUpdateTime.Store(&t)

	return m
}

// Connect replaces the current paho client with a fresh one and starts
// connecting it. The replaced client is disconnected whatever its state, which
// also aborts an attempt still in progress. Events from replaced clients are
// ignored. The handler must not call back into the client.
func (m *MQTTClient) Connect(handler application.MQTTEventHandler) error {
	if handler == nil {
		return fmt.Errorf("event handler is nil")
	}

	m.emitMu.Lock()
	m.mu.Lock()
	old := m.client
	m.gen++
	gen := m.gen
	m.handler = handler
	m.client = m.params.NewClientFunc(m.newClientOptions(gen))
	client := m.client
	m.pending = nil
	m.connected.Store(false)
	m.mu.Unlock()
	m.emitMu.Unlock()

	if old != nil {
		old.Disconnect(0)
	}

	m.log.Info().Str("url", m.params.MQTTUrl).Uint64("generation", gen).Msg("connecting")

	token := client.Connect()
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			m.emit(gen, application.MQTTEvent{Type: application.MQTTEventError, Err: err})
		}
	}()

	return nil
}

func (m *MQTTClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	client, err := m.current()
	if err != nil {
		return err
	}

	m.track(pendingPublish, topic, client.Publish(topic, qos, retained, payload))
	return nil
}

func (m *MQTTClient) Subscribe(topic string, qos byte) error {
	client, err := m.current()
	if err != nil {
		return err
	}

	// nil callback routes messages to the default publish handler
	m.track(pendingSubscribe, topic, client.Subscribe(topic, qos, nil))
	return nil
}

// Poll reaps completed publish and subscribe tokens without blocking.
func (m *MQTTClient) Poll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	remaining := m.pending[:0]
	for _, p := range m.pending {
		select {
		case <-p.token.Done():
			m.complete(p)
		default:
			remaining = append(remaining, p)
		}
	}
	for i := len(remaining); i < len(m.pending); i++ {
		m.pending[i] = pendingToken{}
	}
	m.pending = remaining
}

func (m *MQTTClient) complete(p pendingToken) {
	if err := p.token.Error(); err != nil {
		m.log.Error().Err(err).Str("topic", p.topic).Msg("mqtt operation failed")
		return
	}

	if p.op == pendingPublish {
		t := time.Now()
		m.msgCountUpdateTime.Store(&t)
		m.msgCount.Add(1)
	}
}

func (m *MQTTClient) Disconnect() {
	m.emitMu.Lock()
	m.mu.Lock()
	client := m.client
	m.gen++
	m.pending = nil
	m.connected.Store(false)
	m.mu.Unlock()
	m.emitMu.Unlock()

	if client != nil {
		client.Disconnect(250)
	}
}

func (m *MQTTClient) IsConnected() bool {
	return m.connected.Load()
}

func (m *MQTTClient) Status() application.MQTTStatus {
	return application.MQTTStatus{
		MessageCount:      m.msgCount.Load(),
		LastTimePublished: *m.msgCountUpdateTime.Load(),
		Connected:         m.IsConnected(),
	}
}

func (m *MQTTClient) current() (mqtt.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.client == nil || !m.connected.Load() {
		return nil, ErrMQTTNotConnected
	}
	return m.client, nil
}

func (m *MQTTClient) track(op pendingOp, topic string, token mqtt.Token) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) >= m.params.MaxPendingToken {
		m.log.Warn().Str("topic", m.pending[0].topic).Msg("too many pending mqtt operations, untracking oldest")
		m.pending[0] = pendingToken{}
		m.pending = m.pending[1:]
	}
	m.pending = append(m.pending, pendingToken{op: op, topic: topic, token: token})
}

// emit forwards ev to the handler if gen is still the live connection.
func (m *MQTTClient) emit(gen uint64, ev application.MQTTEvent) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.RLock()
	handler := m.handler
	live := gen == m.gen
	m.mu.RUnlock()

	if !live {
		m.log.Debug().Uint64("generation", gen).Str("event", ev.Type.String()).Msg("event from replaced connection ignored")
		return
	}

	switch ev.Type {
	case application.MQTTEventConnected:
		m.connected.Store(true)
	case application.MQTTEventError, application.MQTTEventClosed:
		m.connected.Store(false)
	}

	handler(ev)
}

func (m *MQTTClient) onConnect(gen uint64) mqtt.OnConnectHandler {
	return func(client mqtt.Client) {
		m.log.Info().Str("url", m.params.MQTTUrl).Msg("connected")
		m.emit(gen, application.MQTTEvent{Type: application.MQTTEventConnected})
	}
}

func (m *MQTTClient) onConnectionLost(gen uint64) mqtt.ConnectionLostHandler {
	return func(client mqtt.Client, err error) {
		m.log.Info().Msgf("connect lost: %v", err)
		m.emit(gen, application.MQTTEvent{Type: application.MQTTEventClosed, Err: err})
	}
}

func (m *MQTTClient) publishHandler(gen uint64) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		m.emit(gen, application.MQTTEvent{
			Type:    application.MQTTEventMessage,
			Topic:   msg.Topic(),
			Payload: msg.Payload(),
		})
	}
}

func (m *MQTTClient) newClientOptions(gen uint64) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()

	opts.AddBroker(m.params.MQTTUrl)
	opts.SetClientID(m.params.ClientID)
	if m.params.Username != "" {
		opts.SetUsername(m.params.Username)
		opts.SetPassword(m.params.Password)
	}

	opts.SetWill(m.params.WillTopic, m.params.WillPayload, m.params.WillQoS, false)

	// the bridge owns the reconnect policy
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(m.params.ConnectTimeout)
	opts.SetKeepAlive(m.params.KeepAlive)

	opts.SetDefaultPublishHandler(m.publishHandler(gen))
	opts.SetOnConnectHandler(m.onConnect(gen))
	opts.SetConnectionLostHandler(m.onConnectionLost(gen))

	return opts
}

var _ application.MQTTClient = &MQTTClient{}
