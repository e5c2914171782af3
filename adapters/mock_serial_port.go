package adapters

import (
	"fmt"
	"sync"
	"time"

	"github.com/donadiosolutions/scale-printer-mqtt/application"
	"github.com/rs/zerolog"
)

const MockSerialDefaultInterval = 1 * time.Second

type MockSerialPortParams struct {
	// Script holds readings emitted one per Interval, each terminated for
	// the framer. Empty means the port stays silent.
	Script []string

	// Interval between emitted readings; also bounds how long a Read
	// blocks when the script is exhausted.
	Interval time.Duration

	// Loop restarts the script after the last entry.
	Loop bool

	Log zerolog.Logger
}

func (p *MockSerialPortParams) EnsureDefaults() {
	if p.Interval == 0 {
		p.Interval = MockSerialDefaultInterval
	}
}

// MockSerialPort implements application.SerialPort without hardware. It is
// selected by the mock-device flag so the daemons can run in environments
// with no serial devices attached: writes are logged and discarded, reads
// replay the scripted readings.
type MockSerialPort struct {
	params MockSerialPortParams

	mu           sync.Mutex
	opened       bool
	next         int
	bytesWritten uint64

	log zerolog.Logger
}

func NewMockSerialPort(params MockSerialPortParams) *MockSerialPort {
	params.EnsureDefaults()
	return &MockSerialPort{params: params, log: params.Log}
}

func (m *MockSerialPort) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.opened = true
	m.next = 0
	m.log.Info().Msg("mock serial port opened")
	return nil
}

func (m *MockSerialPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	if !m.opened {
		m.mu.Unlock()
		return 0, application.ErrDeviceLost
	}

	line := m.nextLineLocked()
	m.mu.Unlock()

	// Pace emissions like a real device with a read timeout.
	time.Sleep(m.params.Interval)

	if line == "" {
		return 0, nil
	}
	return copy(p, line+string(application.Terminator)), nil
}

func (m *MockSerialPort) nextLineLocked() string {
	if m.next >= len(m.params.Script) {
		if !m.params.Loop || len(m.params.Script) == 0 {
			return ""
		}
		m.next = 0
	}

	line := m.params.Script[m.next]
	m.next++
	return line
}

func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.opened {
		return 0, application.ErrDeviceLost
	}

	m.bytesWritten += uint64(len(p))
	m.log.Info().Int("bytes", len(p)).Hex("payload", p).Msg("mock serial write discarded")
	return len(p), nil
}

func (m *MockSerialPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.opened {
		return fmt.Errorf("already closed")
	}
	m.opened = false
	return nil
}

func (m *MockSerialPort) Present() bool {
	return true
}

// BytesWritten reports the number of discarded payload bytes.
func (m *MockSerialPort) BytesWritten() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytesWritten
}

var _ application.SerialPort = &MockSerialPort{}
