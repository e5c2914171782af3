package adapters

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/donadiosolutions/scale-printer-mqtt/application"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/rs/zerolog"
)

const (
	MQTTDefaultConnectTimeout = 30 * time.Second
	MQTTDefaultPublishTimeout = 5 * time.Second
	MQTTDefaultKeepAlive      = 60 * time.Second

	mqttDisconnectQuiesce = 250 // milliseconds
)

var (
	ErrMQTTNotConnected   = fmt.Errorf("not connected")
	ErrMQTTConnectTimeout = fmt.Errorf("connect timeout")
	ErrMQTTPublishTimeout = fmt.Errorf("publish timeout")
)

type MQTTClientParams struct {
	ClientID string
	Username string
	Password string

	// MQTTUrl is the broker URL, e.g. tcp://broker:1883 or ssl://broker:8883.
	MQTTUrl string

	// UseTLS enables TLS 1.2+ with server certificate verification against
	// the system pool. Client certificates are not used.
	UseTLS bool

	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration

	NewClientFunc func(options *mqtt.ClientOptions) mqtt.Client

	Log zerolog.Logger
}

func (m *MQTTClientParams) EnsureDefaults() {
	if m.KeepAlive == 0 {
		m.KeepAlive = MQTTDefaultKeepAlive
	}

	if m.ConnectTimeout == 0 {
		m.ConnectTimeout = MQTTDefaultConnectTimeout
	}

	if m.PublishTimeout == 0 {
		m.PublishTimeout = MQTTDefaultPublishTimeout
	}

	if m.NewClientFunc == nil {
		m.NewClientFunc = mqtt.NewClient
	}
}

type subscription struct {
	qos     byte
	handler func(topic string, payload []byte)
}

// MQTTClient implements application.MQTTClient on paho. Reconnection is
// owned by the message transport, not paho's auto-reconnect, so failure
// handling stays in one explicit loop; subscriptions registered here are
// replayed in the OnConnect handler on every successful connection.
type MQTTClient struct {
	params MQTTClientParams

	client mqtt.Client

	connected          uint64
	msgCount           uint64
	msgCountUpdateTime atomic.Pointer[time.Time]

	mu   sync.RWMutex
	subs map[string]subscription

	log zerolog.Logger
}

func NewMQTTClient(params MQTTClientParams) *MQTTClient {
	params.EnsureDefaults()

	m := &MQTTClient{
		params: params,
		subs:   map[string]subscription{},
		log:    params.Log,
	}
	m.client = m.newMqttClient()

	t := time.Unix(0, 0)
	m.msgCountUpdateTime.Store(&t)

	return m
}

func (m *MQTTClient) Connect() error {
	if atomic.LoadUint64(&m.connected) == 1 {
		return nil
	}

	tc := time.NewTimer(m.params.ConnectTimeout)
	defer tc.Stop()

	token := m.client.Connect()
	select {
	case <-tc.C:
		return fmt.Errorf("%w: %v", application.ErrBrokerUnreachable, ErrMQTTConnectTimeout)
	case <-token.Done():
		if token.Error() != nil {
			return classifyConnectError(token.Error())
		}
	}

	atomic.StoreUint64(&m.connected, 1)
	return nil
}

func (m *MQTTClient) Disconnect() {
	if m.client.IsConnected() {
		m.client.Disconnect(mqttDisconnectQuiesce)
	}
	atomic.StoreUint64(&m.connected, 0)
}

func (m *MQTTClient) IsConnected() bool {
	if atomic.LoadUint64(&m.connected) == 0 {
		return false
	}
	return true
}

func (m *MQTTClient) Status() application.MQTTStatus {
	return application.MQTTStatus{
		MessageCount:      atomic.LoadUint64(&m.msgCount),
		LastTimePublished: *m.msgCountUpdateTime.Load(),
		Connected:         m.IsConnected(),
	}
}

func (m *MQTTClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !m.IsConnected() {
		return ErrMQTTNotConnected
	}

	tc := time.NewTimer(m.params.PublishTimeout)
	defer tc.Stop()

	token := m.client.Publish(topic, qos, retained, payload)
	select {
	case <-tc.C:
		return ErrMQTTPublishTimeout
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	}

	t := time.Now()
	m.msgCountUpdateTime.Store(&t)
	atomic.AddUint64(&m.msgCount, 1)
	return nil
}

// Subscribe registers the subscription and establishes it immediately. The
// registration is replayed on every reconnect.
func (m *MQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	m.subs[topic] = subscription{qos: qos, handler: handler}
	m.mu.Unlock()

	return m.subscribe(topic, qos, handler)
}

func (m *MQTTClient) subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	token := m.client.Subscribe(topic, qos, func(client mqtt.Client, msg mqtt.Message) {
		// paho reuses its receive buffers; hand out a copy.
		payload := make([]byte, len(msg.Payload()))
		copy(payload, msg.Payload())
		handler(msg.Topic(), payload)
	})

	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (m *MQTTClient) PublishHandler(client mqtt.Client, msg mqtt.Message) {
	// do nothing
}

func (m *MQTTClient) OnConnect(client mqtt.Client) {
	m.log.Info().Msgf("connected")
	atomic.StoreUint64(&m.connected, 1)

	m.mu.RLock()
	subs := make(map[string]subscription, len(m.subs))
	for topic, sub := range m.subs {
		subs[topic] = sub
	}
	m.mu.RUnlock()

	for topic, sub := range subs {
		if err := m.subscribe(topic, sub.qos, sub.handler); err != nil {
			m.log.Error().Err(err).Str("topic", topic).Msg("resubscribe failed")
		}
	}
}

func (m *MQTTClient) OnConnectionLost(client mqtt.Client, err error) {
	m.log.Warn().Msgf("connection lost: %v", err)
	atomic.StoreUint64(&m.connected, 0)
}

func (m *MQTTClient) newMqttClient() mqtt.Client {
	opts := mqtt.NewClientOptions()

	opts.AddBroker(m.params.MQTTUrl)
	opts.SetClientID(m.params.ClientID)
	opts.SetUsername(m.params.Username)
	opts.SetPassword(m.params.Password)
	opts.SetKeepAlive(m.params.KeepAlive)

	// QoS 2 in-flight state must survive reconnects for exactly-once
	// delivery, so sessions are persistent and reconnection is driven by
	// the message transport.
	opts.SetCleanSession(false)
	opts.SetAutoReconnect(false)
	opts.SetOrderMatters(true)

	if m.params.UseTLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	opts.SetDefaultPublishHandler(m.PublishHandler)
	opts.OnConnect = m.OnConnect
	opts.OnConnectionLost = m.OnConnectionLost

	return m.params.NewClientFunc(opts)
}

// classifyConnectError maps a paho connect failure onto the application
// error taxonomy so the transport can pick retry severity.
func classifyConnectError(err error) error {
	switch {
	case errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword),
		errors.Is(err, packets.ErrorRefusedNotAuthorised):
		return fmt.Errorf("%w: %v", application.ErrAuthRejected, err)
	}

	var (
		recordErr    tls.RecordHeaderError
		unknownAuth  x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		certInvalid  x509.CertificateInvalidError
		verification *tls.CertificateVerificationError
	)
	if errors.As(err, &recordErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &certInvalid) ||
		errors.As(err, &verification) {
		return fmt.Errorf("%w: %v", application.ErrTLSHandshake, err)
	}

	return fmt.Errorf("%w: %v", application.ErrBrokerUnreachable, err)
}

var _ application.MQTTClient = &MQTTClient{}
