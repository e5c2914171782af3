package application

import "fmt"

var (
	// ErrDeviceUnavailable means the serial device path was missing or not
	// openable at open time. Retried, never fatal.
	ErrDeviceUnavailable = fmt.Errorf("serial device unavailable")

	// ErrDeviceLost means the device disappeared or errored mid-session.
	// Retried, never fatal.
	ErrDeviceLost = fmt.Errorf("serial device lost")

	// ErrBrokerUnreachable means the broker could not be reached at
	// connect time.
	ErrBrokerUnreachable = fmt.Errorf("broker unreachable")

	// ErrAuthRejected means the broker refused the configured credentials.
	ErrAuthRejected = fmt.Errorf("broker rejected credentials")

	// ErrTLSHandshake means the TLS handshake with the broker failed.
	ErrTLSHandshake = fmt.Errorf("tls handshake failed")
)
