package application

import (
	"sync"

	"github.com/stretchr/testify/mock"
)

type MockMQTTClient struct {
	mock.Mock

	mu      sync.Mutex
	handler MQTTEventHandler
}

func (m *MockMQTTClient) Connect(handler MQTTEventHandler) error {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
	return m.Called().Error(0)
}

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	return m.Called(topic, qos, retained, payload).Error(0)
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte) error {
	return m.Called(topic, qos).Error(0)
}

func (m *MockMQTTClient) Poll() {
	m.Called()
}

func (m *MockMQTTClient) Disconnect() {
	m.Called()
}

func (m *MockMQTTClient) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *MockMQTTClient) Status() MQTTStatus {
	return m.Called().Get(0).(MQTTStatus)
}

// emit delivers ev through the handler registered by the last Connect.
func (m *MockMQTTClient) emit(ev MQTTEvent) {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	handler(ev)
}

var _ MQTTClient = &MockMQTTClient{}
