package adapters

import (
	"crypto/x509"
	"fmt"
	"testing"
	"time"

	"github.com/donadiosolutions/scale-printer-mqtt/application"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestMQTTClient(mClient *MockMQTTClient) *MQTTClient {
	return NewMQTTClient(MQTTClientParams{
		ClientID: "test",
		Username: "admin",
		Password: "password",
		MQTTUrl:  "ssl://localhost:8883",
		UseTLS:   true,
		// for testing
		NewClientFunc: func(options *mqtt.ClientOptions) mqtt.Client {
			return mClient
		},
	})
}

func TestMQTTClient_Connect(t *testing.T) {
	mClient := &MockMQTTClient{}
	mToken := &MockToken{}

	mqttClient := newTestMQTTClient(mClient)

	mClient.On("Connect").Return(mToken).Once()
	mToken.On("Done").Return(closedDone()).Once()
	mToken.On("Error").Return(nil).Once()

	err := mqttClient.Connect()
	require.NoError(t, err)
	assert.Equal(t, true, mqttClient.IsConnected())

	status := mqttClient.Status()
	assert.Equal(t, uint64(0), status.MessageCount)
	assert.Equal(t, time.Unix(0, 0), status.LastTimePublished)
	assert.Equal(t, true, status.Connected)

	err = mqttClient.Connect()
	require.NoError(t, err)

	mClient.AssertExpectations(t)
	mToken.AssertExpectations(t)
}

func TestMQTTClient_Connect_AuthRejected(t *testing.T) {
	mClient := &MockMQTTClient{}
	mToken := &MockToken{}

	mqttClient := newTestMQTTClient(mClient)

	mClient.On("Connect").Return(mToken).Once()
	mToken.On("Done").Return(closedDone()).Once()
	mToken.On("Error").Return(packets.ErrorRefusedBadUsernameOrPassword).Twice()

	err := mqttClient.Connect()
	require.Error(t, err)
	require.ErrorIs(t, err, application.ErrAuthRejected)
	assert.Equal(t, false, mqttClient.IsConnected())

	mClient.AssertExpectations(t)
	mToken.AssertExpectations(t)
}

func TestMQTTClient_Connect_Unreachable(t *testing.T) {
	mClient := &MockMQTTClient{}
	mToken := &MockToken{}

	mqttClient := newTestMQTTClient(mClient)

	mClient.On("Connect").Return(mToken).Once()
	mToken.On("Done").Return(closedDone()).Once()
	mToken.On("Error").Return(fmt.Errorf("dial tcp: connection refused")).Twice()

	err := mqttClient.Connect()
	require.Error(t, err)
	require.ErrorIs(t, err, application.ErrBrokerUnreachable)
	assert.Equal(t, false, mqttClient.IsConnected())

	mClient.AssertExpectations(t)
	mToken.AssertExpectations(t)
}

func TestMQTTClient_OnConnectionLost(t *testing.T) {
	mClient := &MockMQTTClient{}
	mToken := &MockToken{}

	mqttClient := newTestMQTTClient(mClient)

	mClient.On("Connect").Return(mToken).Once()
	mToken.On("Done").Return(closedDone()).Once()
	mToken.On("Error").Return(nil).Once()

	err := mqttClient.Connect()
	require.NoError(t, err)
	assert.Equal(t, true, mqttClient.IsConnected())

	mqttClient.OnConnectionLost(mClient, fmt.Errorf("connection lost"))
	assert.Equal(t, false, mqttClient.IsConnected())

	mClient.AssertExpectations(t)
	mToken.AssertExpectations(t)
}

func TestMQTTClient_Publish(t *testing.T) {
	mClient := &MockMQTTClient{}
	mToken := &MockToken{}

	mqttClient := newTestMQTTClient(mClient)

	mClient.On("Connect").Run(func(args mock.Arguments) {
		mqttClient.OnConnect(mClient)
	}).Return(mToken).Once()
	mToken.On("Done").Return(closedDone()).Twice()
	mToken.On("Error").Return(nil).Twice()

	err := mqttClient.Connect()
	require.NoError(t, err)
	assert.Equal(t, true, mqttClient.IsConnected())

	topic := "laboratory/scale/data"
	qos := byte(2)
	retained := false
	payload := []byte("12.34 g")

	mClient.On("Publish", topic, qos, retained, payload).Return(mToken).Once()

	err = mqttClient.Publish(topic, qos, retained, payload)
	require.NoError(t, err)

	status := mqttClient.Status()
	assert.Equal(t, uint64(1), status.MessageCount)
	assert.True(t, time.Now().After(status.LastTimePublished))
	assert.Equal(t, true, status.Connected)

	mClient.AssertExpectations(t)
	mToken.AssertExpectations(t)
}

func TestMQTTClient_Publish_NotConnected(t *testing.T) {
	mClient := &MockMQTTClient{}

	mqttClient := newTestMQTTClient(mClient)

	err := mqttClient.Publish("laboratory/scale/data", 2, false, []byte("12.34 g"))
	require.Error(t, err)
	require.Equal(t, ErrMQTTNotConnected, err)

	status := mqttClient.Status()
	assert.Equal(t, uint64(0), status.MessageCount)
	assert.Equal(t, false, status.Connected)

	mClient.AssertExpectations(t)
}

func TestMQTTClient_Publish_Error(t *testing.T) {
	mClient := &MockMQTTClient{}
	mToken := &MockToken{}

	mqttClient := newTestMQTTClient(mClient)

	mClient.On("Connect").Return(mToken).Once()
	mToken.On("Done").Return(closedDone()).Twice()
	mToken.On("Error").Return(nil).Once()

	err := mqttClient.Connect()
	require.NoError(t, err)

	topic := "laboratory/scale/data"
	payload := []byte("12.34 g")

	mClient.On("Publish", topic, byte(2), false, payload).Return(mToken).Once()
	mToken.On("Error").Return(fmt.Errorf("internal")).Twice()

	err = mqttClient.Publish(topic, 2, false, payload)
	require.Error(t, err)

	status := mqttClient.Status()
	assert.Equal(t, uint64(0), status.MessageCount)

	mClient.AssertExpectations(t)
	mToken.AssertExpectations(t)
}

func TestMQTTClient_SubscriptionsRestoredOnReconnect(t *testing.T) {
	mClient := &MockMQTTClient{}
	mToken := &MockToken{}

	mqttClient := newTestMQTTClient(mClient)

	mToken.On("Wait").Return(true)
	mToken.On("Error").Return(nil)
	mClient.On("Subscribe", "laboratory/scale/command", byte(2), mock.Anything).Return(mToken).Twice()

	err := mqttClient.Subscribe("laboratory/scale/command", 2, func(topic string, payload []byte) {})
	require.NoError(t, err)

	// A reconnect replays the registered subscription.
	mqttClient.OnConnect(mClient)

	mClient.AssertExpectations(t)
	mClient.AssertNumberOfCalls(t, "Subscribe", 2)
}

func TestClassifyConnectError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"bad credentials", packets.ErrorRefusedBadUsernameOrPassword, application.ErrAuthRejected},
		{"not authorised", packets.ErrorRefusedNotAuthorised, application.ErrAuthRejected},
		{"unknown authority", x509.UnknownAuthorityError{}, application.ErrTLSHandshake},
		{"hostname mismatch", x509.HostnameError{Certificate: &x509.Certificate{}, Host: "broker"}, application.ErrTLSHandshake},
		{"network error", fmt.Errorf("dial tcp: i/o timeout"), application.ErrBrokerUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classifyConnectError(tt.err), tt.want)
		})
	}
}
