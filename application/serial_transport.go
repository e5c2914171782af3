package application

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	SerialDefaultRetryInterval = 2 * time.Second
	serialReadBufSize          = 256
)

type SerialTransportParams struct {
	Port SerialPort

	// Inbound carries Messages from the broker to be written to the
	// device. Required.
	Inbound *BridgeQueue

	// Outbound receives one Message per frame read from the device. Nil
	// for write-only roles (printer).
	Outbound *BridgeQueue

	// DataTopic tags outbound Messages.
	DataTopic string
	QoS       byte

	// AppendTerminator adds exactly one line terminator to every inbound
	// payload before it is written (printer direction). Scale commands are
	// written raw.
	AppendTerminator bool

	// RetryInterval is the poll interval while waiting for a lost device
	// to reappear, and bounds how long any single wait blocks.
	RetryInterval time.Duration

	Log zerolog.Logger
}

func (p *SerialTransportParams) EnsureDefaults() {
	if p.RetryInterval == 0 {
		p.RetryInterval = SerialDefaultRetryInterval
	}
}

// SerialTransport owns one SerialPort and runs its whole life on a single
// goroutine: open, read/frame/enqueue, drain inbound writes, and the
// retry loop after a device loss. A fault never propagates beyond Run's
// internal state machine.
type SerialTransport struct {
	params SerialTransportParams

	state  atomic.Int32
	framer *LineFramer

	log zerolog.Logger
}

func NewSerialTransport(params SerialTransportParams) (*SerialTransport, error) {
	if params.Port == nil {
		return nil, fmt.Errorf("Port is nil")
	}
	if params.Inbound == nil {
		return nil, fmt.Errorf("Inbound queue is nil")
	}
	params.EnsureDefaults()

	return &SerialTransport{
		params: params,
		framer: NewLineFramer(),
		log:    params.Log,
	}, nil
}

func (t *SerialTransport) State() SerialState {
	return SerialState(t.state.Load())
}

func (t *SerialTransport) setState(s SerialState) {
	t.state.Store(int32(s))
}

// Run drives the port until ctx is cancelled:
//
//	Closed -> Opening -> Open -> (fault) -> Lost -> Opening -> ...
//
// Open failures and mid-session faults are logged and retried forever at
// RetryInterval; Run only returns on cancellation, always with the port
// released.
func (t *SerialTransport) Run(ctx context.Context) error {
	defer t.setState(SerialClosed)

	for {
		if ctx.Err() != nil {
			return nil
		}

		t.setState(SerialOpening)
		if err := t.params.Port.Open(); err != nil {
			t.log.Warn().Err(err).Msg("serial open failed, retrying")
			if !sleepCtx(ctx, t.params.RetryInterval) {
				return nil
			}
			continue
		}

		// Partial lines spanning the gap are discarded, never merged.
		t.framer.Reset()
		t.setState(SerialOpen)
		t.log.Info().Msg("serial device open")

		err := t.session(ctx)
		if cerr := t.params.Port.Close(); cerr != nil {
			t.log.Debug().Err(cerr).Msg("serial close")
		}

		if ctx.Err() != nil {
			t.log.Info().Msg("serial transport stopped")
			return nil
		}

		t.setState(SerialLost)
		t.log.Warn().Err(err).Msg("serial device lost, polling for reappearance")
		if !sleepCtx(ctx, t.params.RetryInterval) {
			return nil
		}
	}
}

// session services one open device until a fault or cancellation. Inbound
// writes are drained before each read so commands are never starved by a
// chatty device.
func (t *SerialTransport) session(ctx context.Context) error {
	buf := make([]byte, serialReadBufSize)

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := t.drainInbound(); err != nil {
			return err
		}

		if t.params.Outbound == nil {
			if err := t.awaitInbound(ctx); err != nil {
				return err
			}
			continue
		}

		n, err := t.params.Port.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			// Read timeout. The device may have vanished without the
			// descriptor erroring yet.
			if !t.params.Port.Present() {
				return ErrDeviceLost
			}
			continue
		}

		for _, frame := range t.framer.Push(buf[:n]) {
			t.log.Debug().Bytes("frame", frame).Msg("frame read")
			t.params.Outbound.Enqueue(Message{
				Topic:   t.params.DataTopic,
				Payload: frame,
				QoS:     t.params.QoS,
			})
		}
	}
}

// drainInbound writes every queued inbound Message to the device. A failed
// write requeues the Message at the head so it is retried, in order, after
// reconnect.
func (t *SerialTransport) drainInbound() error {
	for {
		m, ok := t.params.Inbound.TryDequeue()
		if !ok {
			return nil
		}

		payload := m.Payload
		if t.params.AppendTerminator {
			payload = AppendTerminator(payload)
		}

		t.log.Info().Int("bytes", len(payload)).Msg("writing to serial device")
		if _, err := t.params.Port.Write(payload); err != nil {
			t.params.Inbound.Requeue(m)
			return err
		}
	}
}

// awaitInbound blocks a write-only transport until the next inbound
// Message, a presence-poll tick, or cancellation.
func (t *SerialTransport) awaitInbound(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, t.params.RetryInterval)
	defer cancel()

	m, err := t.params.Inbound.Dequeue(waitCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if !t.params.Port.Present() {
			return ErrDeviceLost
		}
		return nil
	}

	t.params.Inbound.Requeue(m)
	return nil
}

// sleepCtx sleeps for d unless ctx is cancelled first. Reports false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
