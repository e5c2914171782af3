package application

// SerialState is the lifecycle state of the serial transport.
type SerialState int32

const (
	SerialClosed SerialState = iota
	SerialOpening
	SerialOpen
	SerialLost
)

func (s SerialState) String() string {
	switch s {
	case SerialClosed:
		return "closed"
	case SerialOpening:
		return "opening"
	case SerialOpen:
		return "open"
	case SerialLost:
		return "lost"
	default:
		return "unknown"
	}
}

// SerialPort is the capability the serial transport needs from a character
// device. Implementations live in adapters (real device, mock device) and
// are selected by configuration. A port is exclusively owned by one
// SerialTransport and never shared.
//
// Read must honor a bounded read timeout, reporting (0, nil) when it
// expires, so the owning loop can observe cancellation and poll device
// presence. Read and Write report ErrDeviceLost when the underlying handle
// errors; Open reports ErrDeviceUnavailable when the path is missing or
// not openable.
type SerialPort interface {
	Open() error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error

	// Present reports whether the device path currently exists.
	Present() bool
}
