package application

// Message is an immutable byte payload tagged with the logical topic it
// belongs to and the QoS level it must be delivered with. Messages are
// produced by the framer or by the broker client and consumed exactly once
// by the opposing transport.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
}
