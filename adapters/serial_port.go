package adapters

import (
	"fmt"
	"os"
	"time"

	"github.com/donadiosolutions/scale-printer-mqtt/application"
	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

const SerialDefaultReadTimeout = 1 * time.Second

type SerialPortParams struct {
	// Device is the character device path, e.g. /dev/ttyUSB_SCALE.
	Device string

	// BaudRate of the device. Frame format is fixed at 8N1.
	BaudRate int

	// ReadTimeout bounds each blocking read so the owning loop can poll
	// for cancellation and device presence.
	ReadTimeout time.Duration

	Log zerolog.Logger
}

func (p *SerialPortParams) EnsureDefaults() {
	if p.ReadTimeout == 0 {
		p.ReadTimeout = SerialDefaultReadTimeout
	}
}

// SerialPort implements application.SerialPort on a real character device
// via go.bug.st/serial. It is owned by exactly one SerialTransport
// goroutine; no internal locking is needed.
type SerialPort struct {
	params SerialPortParams

	port serial.Port

	log zerolog.Logger
}

func NewSerialPort(params SerialPortParams) *SerialPort {
	params.EnsureDefaults()
	return &SerialPort{params: params, log: params.Log}
}

func (s *SerialPort) Open() error {
	if _, err := os.Stat(s.params.Device); err != nil {
		return fmt.Errorf("%w: %s: %v", application.ErrDeviceUnavailable, s.params.Device, err)
	}

	mode := &serial.Mode{
		BaudRate: s.params.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(s.params.Device, mode)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", application.ErrDeviceUnavailable, s.params.Device, err)
	}

	if err := port.SetReadTimeout(s.params.ReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("%w: %s: %v", application.ErrDeviceUnavailable, s.params.Device, err)
	}

	s.port = port
	s.log.Info().
		Str("device", s.params.Device).
		Int("baud", s.params.BaudRate).
		Msg("serial port opened")
	return nil
}

// Read reads up to len(p) bytes. An expired read timeout reports (0, nil).
func (s *SerialPort) Read(p []byte) (int, error) {
	if s.port == nil {
		return 0, application.ErrDeviceLost
	}

	n, err := s.port.Read(p)
	if err != nil {
		return n, fmt.Errorf("%w: %v", application.ErrDeviceLost, err)
	}
	return n, nil
}

func (s *SerialPort) Write(p []byte) (int, error) {
	if s.port == nil {
		return 0, application.ErrDeviceLost
	}

	n, err := s.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("%w: %v", application.ErrDeviceLost, err)
	}
	return n, nil
}

func (s *SerialPort) Close() error {
	if s.port == nil {
		return nil
	}

	err := s.port.Close()
	s.port = nil
	if err != nil {
		return fmt.Errorf("closing %s: %w", s.params.Device, err)
	}

	s.log.Info().Str("device", s.params.Device).Msg("serial port closed")
	return nil
}

func (s *SerialPort) Present() bool {
	_, err := os.Stat(s.params.Device)
	return err == nil
}

var _ application.SerialPort = &SerialPort{}
