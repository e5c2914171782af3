package application

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// BrokerState is the lifecycle state of the message transport.
type BrokerState int32

const (
	BrokerDisconnected BrokerState = iota
	BrokerConnecting
	BrokerConnected
)

func (s BrokerState) String() string {
	switch s {
	case BrokerDisconnected:
		return "disconnected"
	case BrokerConnecting:
		return "connecting"
	case BrokerConnected:
		return "connected"
	default:
		return "unknown"
	}
}

const (
	BrokerDefaultInitialBackoff = 1 * time.Second
	BrokerDefaultMaxBackoff     = 60 * time.Second
	BrokerDefaultDrainGrace     = 5 * time.Second
	brokerPollInterval          = 1 * time.Second

	// misconfigEscalateAfter is how many consecutive auth/TLS connect
	// failures are tolerated at warn level before escalating to error:
	// repeated rejections almost certainly mean bad configuration, not
	// transience.
	misconfigEscalateAfter = 3
)

type MessageTransportParams struct {
	Client MQTTClient

	// PublishTopic is where outbound Messages go. Empty disables the
	// publisher (printer daemon).
	PublishTopic string

	// SubscribeTopic feeds the inbound queue. Empty disables subscription.
	SubscribeTopic string

	QoS byte

	// SingleByteCommands truncates inbound payloads to their first byte
	// (scale command topic: one ASCII byte per Message, no batching).
	SingleByteCommands bool

	// Inbound carries broker messages toward the serial transport.
	Inbound *BridgeQueue

	// Outbound carries frames to publish. Required when PublishTopic is
	// set.
	Outbound *BridgeQueue

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// DrainGrace bounds how long shutdown may spend flushing
	// already-enqueued outbound Messages.
	DrainGrace time.Duration

	Log zerolog.Logger
}

func (p *MessageTransportParams) EnsureDefaults() {
	if p.InitialBackoff == 0 {
		p.InitialBackoff = BrokerDefaultInitialBackoff
	}
	if p.MaxBackoff == 0 {
		p.MaxBackoff = BrokerDefaultMaxBackoff
	}
	if p.DrainGrace == 0 {
		p.DrainGrace = BrokerDefaultDrainGrace
	}
}

// MessageTransport owns one MQTTClient and runs its whole life on a single
// goroutine: connect with exponential backoff, subscribe, publish the
// outbound queue in order, and reconnect after any loss. Faults never
// propagate beyond Run's internal state machine.
type MessageTransport struct {
	params MessageTransportParams

	state           atomic.Int32
	subscribed      bool
	misconfigCount  int
	publishFailures atomic.Uint64

	log zerolog.Logger
}

func NewMessageTransport(params MessageTransportParams) (*MessageTransport, error) {
	if params.Client == nil {
		return nil, fmt.Errorf("Client is nil")
	}
	if params.SubscribeTopic != "" && params.Inbound == nil {
		return nil, fmt.Errorf("Inbound queue is nil")
	}
	if params.PublishTopic != "" && params.Outbound == nil {
		return nil, fmt.Errorf("Outbound queue is nil")
	}
	params.EnsureDefaults()

	return &MessageTransport{params: params, log: params.Log}, nil
}

func (t *MessageTransport) State() BrokerState {
	return BrokerState(t.state.Load())
}

func (t *MessageTransport) setState(s BrokerState) {
	t.state.Store(int32(s))
}

// PublishFailures returns the number of publish attempts that failed and
// were requeued.
func (t *MessageTransport) PublishFailures() uint64 {
	return t.publishFailures.Load()
}

// ClientStatus reports the broker client's connectivity and publish
// counters.
func (t *MessageTransport) ClientStatus() MQTTStatus {
	return t.params.Client.Status()
}

// Run drives the broker connection until ctx is cancelled:
//
//	Disconnected -> Connecting -> Connected -> (fault) -> Disconnected -> ...
//
// On cancellation it drains already-enqueued outbound Messages within
// DrainGrace, disconnects, and returns nil.
func (t *MessageTransport) Run(ctx context.Context) error {
	defer t.setState(BrokerDisconnected)

	backoff := t.params.InitialBackoff

	for {
		if ctx.Err() != nil {
			t.drain()
			t.params.Client.Disconnect()
			return nil
		}

		t.setState(BrokerConnecting)
		t.log.Info().Msg("connecting to broker")

		if err := t.params.Client.Connect(); err != nil {
			t.setState(BrokerDisconnected)
			t.logConnectError(err, backoff)
			if !sleepCtx(ctx, backoff) {
				continue
			}
			backoff = nextBackoff(backoff, t.params.MaxBackoff)
			continue
		}

		backoff = t.params.InitialBackoff
		t.misconfigCount = 0

		if err := t.ensureSubscribed(); err != nil {
			t.setState(BrokerDisconnected)
			t.log.Warn().Err(err).Msg("subscribe failed, reconnecting")
			sleepCtx(ctx, backoff)
			continue
		}

		t.setState(BrokerConnected)
		t.log.Info().Msg("connected to broker")

		err := t.pump(ctx)

		if ctx.Err() != nil {
			t.drain()
			t.params.Client.Disconnect()
			t.setState(BrokerDisconnected)
			t.log.Info().Msg("message transport stopped")
			return nil
		}

		t.setState(BrokerDisconnected)
		t.log.Warn().Err(err).Msg("broker connection lost, reconnecting")
		sleepCtx(ctx, backoff)
	}
}

// ensureSubscribed registers the inbound subscription once; the client
// re-establishes it on every reconnect thereafter.
func (t *MessageTransport) ensureSubscribed() error {
	if t.subscribed || t.params.SubscribeTopic == "" {
		return nil
	}

	err := t.params.Client.Subscribe(t.params.SubscribeTopic, t.params.QoS, t.onInbound)
	if err != nil {
		return err
	}

	t.subscribed = true
	t.log.Info().Str("topic", t.params.SubscribeTopic).Uint8("qos", t.params.QoS).Msg("subscribed")
	return nil
}

// onInbound is invoked by the broker client for every subscribed message.
func (t *MessageTransport) onInbound(topic string, payload []byte) {
	if len(payload) == 0 {
		t.log.Warn().Str("topic", topic).Msg("empty payload received, ignoring")
		return
	}

	if t.params.SingleByteCommands {
		payload = payload[:1]
	}

	t.log.Info().Str("topic", topic).Int("bytes", len(payload)).Msg("message received")
	t.params.Inbound.Enqueue(Message{
		Topic:   topic,
		Payload: payload,
		QoS:     t.params.QoS,
	})
}

// pump publishes the outbound queue in order while the connection holds.
// Returns when the connection is lost or ctx is cancelled. A failed
// publish is requeued at the head so order survives the reconnect.
func (t *MessageTransport) pump(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if !t.params.Client.IsConnected() {
			return ErrBrokerUnreachable
		}

		if t.params.Outbound == nil {
			if !sleepCtx(ctx, brokerPollInterval) {
				return nil
			}
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, brokerPollInterval)
		m, err := t.params.Outbound.Dequeue(waitCtx)
		cancel()
		if err != nil {
			continue
		}

		if err := t.params.Client.Publish(t.params.PublishTopic, m.QoS, false, m.Payload); err != nil {
			t.publishFailures.Add(1)
			t.params.Outbound.Requeue(m)
			return err
		}

		t.log.Info().
			Str("topic", t.params.PublishTopic).
			Int("bytes", len(m.Payload)).
			Msg("published")
	}
}

// drain flushes already-enqueued outbound Messages within DrainGrace.
// Anything left after the grace period is counted and abandoned; there is
// no persistence behind the queue.
func (t *MessageTransport) drain() {
	if t.params.Outbound == nil {
		return
	}

	deadline := time.Now().Add(t.params.DrainGrace)
	for time.Now().Before(deadline) {
		m, ok := t.params.Outbound.TryDequeue()
		if !ok {
			return
		}

		if !t.params.Client.IsConnected() {
			t.params.Outbound.Requeue(m)
			break
		}

		if err := t.params.Client.Publish(t.params.PublishTopic, m.QoS, false, m.Payload); err != nil {
			t.params.Outbound.Requeue(m)
			break
		}
	}

	if n := t.params.Outbound.Len(); n > 0 {
		t.log.Warn().Int("remaining", n).Msg("outbound messages abandoned at shutdown")
	}
}

// logConnectError reports a connect failure. Unreachable brokers are
// routine; rejected credentials and failed handshakes escalate to error
// severity after a few consecutive occurrences since they point at
// misconfiguration.
func (t *MessageTransport) logConnectError(err error, backoff time.Duration) {
	likelyMisconfig := errors.Is(err, ErrAuthRejected) || errors.Is(err, ErrTLSHandshake)
	if likelyMisconfig {
		t.misconfigCount++
	}

	ev := t.log.Warn()
	if t.misconfigCount > misconfigEscalateAfter {
		ev = t.log.Error().Bool("likely_misconfiguration", true)
	}
	ev.Err(err).Dur("retry_in", backoff).Msg("broker connect failed")
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
