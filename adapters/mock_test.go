package adapters

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/mock"
)

type MockMQTTClient struct {
	mock.Mock
}

func (m *MockMQTTClient) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *MockMQTTClient) IsConnectionOpen() bool {
	return m.Called().Bool(0)
}

func (m *MockMQTTClient) Connect() mqtt.Token {
	return tokenArg(m.Called(), 0)
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return tokenArg(m.Called(topic, qos, retained, payload), 0)
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return tokenArg(m.Called(topic, qos, callback), 0)
}

func (m *MockMQTTClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return tokenArg(m.Called(filters, callback), 0)
}

func (m *MockMQTTClient) Unsubscribe(topics ...string) mqtt.Token {
	return tokenArg(m.Called(topics), 0)
}

func (m *MockMQTTClient) AddRoute(topic string, callback mqtt.MessageHandler) {
	m.Called(topic, callback)
}

func (m *MockMQTTClient) OptionsReader() mqtt.ClientOptionsReader {
	return m.Called().Get(0).(mqtt.ClientOptionsReader)
}

var _ mqtt.Client = &MockMQTTClient{}

func tokenArg(args mock.Arguments, i int) mqtt.Token {
	if t := args.Get(i); t != nil {
		return t.(mqtt.Token)
	}
	return nil
}

type MockToken struct {
	mock.Mock
}

func (m *MockToken) Wait() bool {
	return m.Called().Bool(0)
}

func (m *MockToken) WaitTimeout(d time.Duration) bool {
	return m.Called(d).Bool(0)
}

func (m *MockToken) Done() <-chan struct{} {
	switch ch := m.Called().Get(0).(type) {
	case chan struct{}:
		return ch
	case <-chan struct{}:
		return ch
	default:
		return nil
	}
}

func (m *MockToken) Error() error {
	return m.Called().Error(0)
}

var _ mqtt.Token = &MockToken{}

type MockMessage struct {
	mock.Mock
}

func (m *MockMessage) Duplicate() bool {
	return m.Called().Bool(0)
}

func (m *MockMessage) Qos() byte {
	return m.Called().Get(0).(byte)
}

func (m *MockMessage) Retained() bool {
	return m.Called().Bool(0)
}

func (m *MockMessage) Topic() string {
	return m.Called().String(0)
}

func (m *MockMessage) MessageID() uint16 {
	return m.Called().Get(0).(uint16)
}

func (m *MockMessage) Payload() []byte {
	return m.Called().Get(0).([]byte)
}

func (m *MockMessage) Ack() {
	m.Called()
}

var _ mqtt.Message = &MockMessage{}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
