package adapters

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mqtt-queue-bridge/application"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testHarness struct {
	client  *MQTTClient
	mClient *MockMQTTClient
	options []*mqtt.ClientOptions
	events  chan application.MQTTEvent
}

func newTestHarness() *testHarness {
	h := &testHarness{
		mClient: &MockMQTTClient{},
		events:  make(chan application.MQTTEvent, 16),
	}
	h.client = NewMQTTClient(MQTTClientParams{
		ClientID: "test",
		Username: "admin",
		Password: "password",
		MQTTUrl:  "tcp://localhost:1883",
		// for testing
		NewClientFunc: func(options *mqtt.ClientOptions) mqtt.Client {
			h.options = append(h.options, options)
			return h.mClient
		},
		Log: zerolog.Nop(),
	})
	return h
}

func (h *testHarness) handle(ev application.MQTTEvent) {
	h.events <- ev
}

// connect performs Connect with a connect token that never completes and
// then fires paho's OnConnect callback.
func (h *testHarness) connect(t *testing.T) {
	t.Helper()

	mToken := &MockToken{}
	mToken.On("Done").Return(make(chan struct{})).Maybe()
	h.mClient.On("Connect").Return(mToken).Once()

	require.NoError(t, h.client.Connect(h.handle))
	require.NotEmpty(t, h.options)

	opts := h.options[len(h.options)-1]
	opts.OnConnect(h.mClient)

	ev := h.nextEvent(t)
	require.Equal(t, application.MQTTEventConnected, ev.Type)
}

func (h *testHarness) nextEvent(t *testing.T) application.MQTTEvent {
	t.Helper()

	select {
	case ev := <-h.events:
		return ev
	case <-time.After(time.Second):
		require.FailNow(t, "no event received")
		return application.MQTTEvent{}
	}
}

func (h *testHarness) assertNoEvent(t *testing.T) {
	t.Helper()

	select {
	case ev := <-h.events:
		assert.Failf(t, "unexpected event", "%s", ev.Type)
	default:
	}
}

func TestMQTTClient_Connect(t *testing.T) {
	h := newTestHarness()

	assert.Equal(t, false, h.client.IsConnected())
	h.connect(t)
	assert.Equal(t, true, h.client.IsConnected())

	status := h.client.Status()
	assert.Equal(t, uint64(0), status.MessageCount)
	assert.Equal(t, time.Unix(0, 0), status.LastTimePublished)
	assert.Equal(t, true, status.Connected)

	require.Len(t, h.options, 1)
	opts := h.options[0]
	assert.Equal(t, "test", opts.ClientID)
	assert.Equal(t, "admin", opts.Username)
	assert.True(t, opts.WillEnabled)
	assert.Equal(t, MQTTDefaultWillTopic, opts.WillTopic)
	assert.Equal(t, []byte(MQTTDefaultWillPayload), opts.WillPayload)
	assert.Equal(t, byte(1), opts.WillQos)
	assert.False(t, opts.AutoReconnect)
	assert.False(t, opts.ConnectRetry)

	h.mClient.AssertExpectations(t)
}

func TestMQTTClient_Connect_NilHandler(t *testing.T) {
	h := newTestHarness()

	err := h.client.Connect(nil)
	require.Error(t, err)
	assert.Empty(t, h.options)
}

func TestMQTTClient_Connect_Error(t *testing.T) {
	h := newTestHarness()
	mToken := &MockToken{}

	h.mClient.On("Connect").Return(mToken).Once()
	mToken.On("Done").Return(closedChan()).Once()
	mToken.On("Error").Return(fmt.Errorf("connection refused")).Once()

	require.NoError(t, h.client.Connect(h.handle))

	ev := h.nextEvent(t)
	assert.Equal(t, application.MQTTEventError, ev.Type)
	assert.EqualError(t, ev.Err, "connection refused")
	assert.Equal(t, false, h.client.IsConnected())

	h.mClient.AssertExpectations(t)
	mToken.AssertExpectations(t)
}

func TestMQTTClient_OnConnectionLost(t *testing.T) {
	h := newTestHarness()
	h.connect(t)

	h.options[0].OnConnectionLost(h.mClient, fmt.Errorf("connection lost"))

	ev := h.nextEvent(t)
	assert.Equal(t, application.MQTTEventClosed, ev.Type)
	assert.EqualError(t, ev.Err, "connection lost")
	assert.Equal(t, false, h.client.IsConnected())

	status := h.client.Status()
	assert.Equal(t, false, status.Connected)

	h.mClient.AssertExpectations(t)
}

func TestMQTTClient_Connect_ReplacesHandle(t *testing.T) {
	h := newTestHarness()
	h.connect(t)

	h.mClient.On("Disconnect", uint(0)).Return().Once()
	h.connect(t)
	require.Len(t, h.options, 2)

	// late callbacks from the first handle are ignored
	h.options[0].OnConnectionLost(h.mClient, fmt.Errorf("stale"))
	h.assertNoEvent(t)
	assert.Equal(t, true, h.client.IsConnected())

	h.options[1].OnConnectionLost(h.mClient, fmt.Errorf("lost"))
	ev := h.nextEvent(t)
	assert.Equal(t, application.MQTTEventClosed, ev.Type)

	h.mClient.AssertExpectations(t)
}

func TestMQTTClient_Connect_CancelsConnectingHandle(t *testing.T) {
	h := newTestHarness()

	// the first attempt never completes
	mToken := &MockToken{}
	mToken.On("Done").Return(make(chan struct{})).Maybe()
	h.mClient.On("Connect").Return(mToken).Once()
	require.NoError(t, h.client.Connect(h.handle))

	h.mClient.On("Disconnect", uint(0)).Return().Once()
	h.connect(t)

	h.mClient.AssertExpectations(t)
}

func TestMQTTClient_Connect_StaleConnected(t *testing.T) {
	h := newTestHarness()

	mToken := &MockToken{}
	mToken.On("Done").Return(make(chan struct{})).Maybe()
	h.mClient.On("Connect").Return(mToken).Twice()
	h.mClient.On("Disconnect", uint(0)).Return().Once()

	require.NoError(t, h.client.Connect(h.handle))
	require.NoError(t, h.client.Connect(h.handle))
	require.Len(t, h.options, 2)

	// the replaced attempt finishing late must not mark the new one connected
	h.options[0].OnConnect(h.mClient)
	h.assertNoEvent(t)
	assert.Equal(t, false, h.client.IsConnected())

	h.mClient.AssertExpectations(t)
}

func TestMQTTClient_Connect_ConcurrentStaleConnected(t *testing.T) {
	h := newTestHarness()

	mToken := &MockToken{}
	mToken.On("Done").Return(closedChan())
	mToken.On("Error").Return(nil)
	h.mClient.On("Connect").Return(mToken)
	h.mClient.On("Disconnect", uint(0)).Return()

	var connected atomic.Int64
	handler := func(ev application.MQTTEvent) {
		if ev.Type == application.MQTTEventConnected {
			connected.Add(1)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		require.NoError(t, h.client.Connect(handler))
		opts := h.options[len(h.options)-1]

		wg.Add(1)
		go func() {
			defer wg.Done()
			opts.OnConnect(h.mClient)
		}()
	}
	require.NoError(t, h.client.Connect(handler))
	wg.Wait()

	// only the last attempt may report connected and it never did
	assert.Equal(t, false, h.client.IsConnected())
	assert.LessOrEqual(t, connected.Load(), int64(100))
}

func TestConnectTimeoutWithin(t *testing.T) {
	assert.Equal(t, 5*time.Second, ConnectTimeoutWithin(10*time.Second))
	assert.Equal(t, MQTTDefaultConnectTimeout, ConnectTimeoutWithin(5*time.Minute))
	assert.Equal(t, MQTTDefaultConnectTimeout, ConnectTimeoutWithin(0))
	assert.Less(t, ConnectTimeoutWithin(time.Second), time.Second)
}

func TestMQTTClient_Message(t *testing.T) {
	h := newTestHarness()
	h.connect(t)

	mMessage := &MockMessage{}
	mMessage.On("Topic").Return("esp32").Once()
	mMessage.On("Payload").Return([]byte("hello")).Once()

	h.options[0].DefaultPublishHandler(h.mClient, mMessage)

	ev := h.nextEvent(t)
	assert.Equal(t, application.MQTTEventMessage, ev.Type)
	assert.Equal(t, "esp32", ev.Topic)
	assert.Equal(t, []byte("hello"), ev.Payload)

	mMessage.AssertExpectations(t)
}

func TestMQTTClient_Publish(t *testing.T) {
	h := newTestHarness()
	h.connect(t)

	topic := "testTopic"
	qos := byte(1)
	retained := false
	payload := []byte("test_payload")

	pToken := &MockToken{}
	h.mClient.On("Publish", topic, qos, retained, payload).Return(pToken).Once()
	pToken.On("Done").Return(closedChan()).Once()
	pToken.On("Error").Return(nil).Once()

	err := h.client.Publish(topic, qos, retained, payload)
	require.NoError(t, err)

	h.client.Poll()

	status := h.client.Status()
	assert.Equal(t, uint64(1), status.MessageCount)
	assert.True(t, time.Now().After(status.LastTimePublished))
	assert.True(t, status.LastTimePublished.After(time.Unix(0, 0)))
	assert.Equal(t, true, status.Connected)

	h.mClient.AssertExpectations(t)
	pToken.AssertExpectations(t)
}

func TestMQTTClient_Publish_NotConnected(t *testing.T) {
	h := newTestHarness()

	err := h.client.Publish("testTopic", byte(1), false, []byte("test_payload"))
	require.Error(t, err)
	require.Equal(t, ErrMQTTNotConnected, err)

	status := h.client.Status()
	assert.Equal(t, uint64(0), status.MessageCount)
	assert.Equal(t, false, status.Connected)

	h.mClient.AssertExpectations(t)
}

func TestMQTTClient_Publish_Error(t *testing.T) {
	h := newTestHarness()
	h.connect(t)

	pToken := &MockToken{}
	h.mClient.On("Publish", "testTopic", byte(1), false, []byte("test_payload")).Return(pToken).Once()
	pToken.On("Done").Return(closedChan()).Once()
	pToken.On("Error").Return(fmt.Errorf("internal")).Once()

	err := h.client.Publish("testTopic", byte(1), false, []byte("test_payload"))
	require.NoError(t, err)

	h.client.Poll()

	status := h.client.Status()
	assert.Equal(t, uint64(0), status.MessageCount)
	assert.Equal(t, true, status.Connected)

	h.mClient.AssertExpectations(t)
	pToken.AssertExpectations(t)
}

func TestMQTTClient_Poll_Pending(t *testing.T) {
	h := newTestHarness()
	h.connect(t)

	done := make(chan struct{})
	pToken := &MockToken{}
	h.mClient.On("Publish", "testTopic", byte(1), false, []byte("x")).Return(pToken).Once()
	pToken.On("Done").Return(done)
	pToken.On("Error").Return(nil).Once()

	require.NoError(t, h.client.Publish("testTopic", byte(1), false, []byte("x")))

	h.client.Poll()
	assert.Equal(t, uint64(0), h.client.Status().MessageCount)

	close(done)
	h.client.Poll()
	assert.Equal(t, uint64(1), h.client.Status().MessageCount)

	// already reaped
	h.client.Poll()
	assert.Equal(t, uint64(1), h.client.Status().MessageCount)

	pToken.AssertExpectations(t)
}

func TestMQTTClient_Subscribe(t *testing.T) {
	h := newTestHarness()
	h.connect(t)

	sToken := &MockToken{}
	h.mClient.On("Subscribe", "esp32", byte(1), mock.Anything).Return(sToken).Once()
	sToken.On("Done").Return(closedChan()).Once()
	sToken.On("Error").Return(nil).Once()

	require.NoError(t, h.client.Subscribe("esp32", byte(1)))
	h.client.Poll()

	// subscriptions do not count as publications
	assert.Equal(t, uint64(0), h.client.Status().MessageCount)

	h.mClient.AssertExpectations(t)
	sToken.AssertExpectations(t)
}

func TestMQTTClient_Subscribe_NotConnected(t *testing.T) {
	h := newTestHarness()

	err := h.client.Subscribe("esp32", byte(1))
	require.Equal(t, ErrMQTTNotConnected, err)
}

func TestMQTTClient_Disconnect(t *testing.T) {
	h := newTestHarness()
	h.connect(t)

	h.mClient.On("Disconnect", uint(250)).Return().Once()

	h.client.Disconnect()
	assert.Equal(t, false, h.client.IsConnected())

	// callbacks after a deliberate disconnect are ignored
	h.options[0].OnConnectionLost(h.mClient, fmt.Errorf("closed"))
	h.assertNoEvent(t)

	h.mClient.AssertExpectations(t)
}
