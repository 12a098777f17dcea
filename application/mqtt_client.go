package application

import "time"

type MQTTStatus struct {
	MessageCount      uint64
	LastTimePublished time.Time
	Connected         bool
}

type MQTTEventType int

const (
	// MQTTEventConnected is emitted once the broker has accepted the session.
	MQTTEventConnected MQTTEventType = iota
	MQTTEventMessage
	MQTTEventError
	MQTTEventClosed
)

func (t MQTTEventType) String() string {
	switch t {
	case MQTTEventConnected:
		return "connected"
	case MQTTEventMessage:
		return "message"
	case MQTTEventError:
		return "error"
	case MQTTEventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type MQTTEvent struct {
	Type MQTTEventType

	// set for MQTTEventMessage
	Topic   string
	Payload []byte

	// set for MQTTEventError, optionally for MQTTEventClosed
	Err error
}

// MQTTEventHandler receives every engine event for one connection. It is
// invoked from engine goroutines and must not block.
type MQTTEventHandler func(ev MQTTEvent)

// MQTTClient is the protocol engine consumed by the bridge loop. None of
// the methods wait for the network.
type MQTTClient interface {
	// Connect issues a fresh connect request, replacing any previous
	// connection handle. The outcome is reported through handler.
	Connect(handler MQTTEventHandler) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte) error
	// Poll services completed engine operations.
	Poll()
	Disconnect()

	IsConnected() bool
	Status() MQTTStatus
}
