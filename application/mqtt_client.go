package application

import "time"

type MQTTStatus struct {
	MessageCount      uint64
	LastTimePublished time.Time
	Connected         bool
}

// MQTTClient is the capability the message transport needs from a broker
// client. The concrete implementation lives in adapters; tests substitute
// their own.
//
// Subscriptions registered through Subscribe must survive broker
// reconnects: the implementation re-establishes them on every successful
// connection. Handlers receive a payload slice they own.
type MQTTClient interface {
	Connect() error
	Disconnect()
	IsConnected() bool

	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	Status() MQTTStatus
}
