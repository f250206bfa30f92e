package dtvclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// ErrorType represents the category of error that occurred
type ErrorType int

const (
	// ErrTypeTransport indicates a connection-level failure (refused, reset, DNS, unreachable)
	ErrTypeTransport ErrorType = iota
	// ErrTypeTimeout indicates the exchange deadline elapsed
	ErrTypeTimeout
	// ErrTypeDecode indicates a body that is neither strict nor recoverable JSON
	ErrTypeDecode
	// ErrTypeCommandRejected indicates the controller answered but the command failed
	ErrTypeCommandRejected
	// ErrTypeValidation indicates a command argument outside the controller's range
	ErrTypeValidation
)

// NetworkErrorSubtype provides more specific transport error classification
type NetworkErrorSubtype int

const (
	NetworkErrorGeneral NetworkErrorSubtype = iota
	NetworkErrorConnectionRefused
	NetworkErrorConnectionReset
	NetworkErrorDNS
	NetworkErrorHostUnreachable
	NetworkErrorNetworkUnreachable
	NetworkErrorCanceled
)

// bodySampleLength is how much of an undecodable body is kept for diagnostics
const bodySampleLength = 100

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeTransport:
		return "Transport Error"
	case ErrTypeTimeout:
		return "Timeout"
	case ErrTypeDecode:
		return "Decode Error"
	case ErrTypeCommandRejected:
		return "Command Rejected"
	case ErrTypeValidation:
		return "Validation Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// DeviceError represents an error that occurred while talking to a controller
type DeviceError struct {
	Type           ErrorType           // Category of error
	Message        string              // Human-readable error message
	Err            error               // Underlying error (if any)
	NetworkSubtype NetworkErrorSubtype // More specific transport error type
	Address        string              // Controller address (for context)
	Path           string              // CGI path of the failed exchange
	BodySample     string              // First 100 characters of the body (decode/reject errors)
}

// Error implements the error interface
func (e *DeviceError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Path)
	}
	if e.BodySample != "" {
		msg += fmt.Sprintf(": %q", e.BodySample)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// ClassifyNetworkError analyzes a dial/read/write error and returns a typed error.
// Deadline expiry becomes ErrTypeTimeout, everything else ErrTypeTransport.
func ClassifyNetworkError(err error, address string) *DeviceError {
	if err == nil {
		return nil
	}

	if os.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return &DeviceError{
			Type:    ErrTypeTimeout,
			Message: "Request timed out",
			Err:     err,
			Address: address,
		}
	}

	transport := func(subtype NetworkErrorSubtype, message string) *DeviceError {
		return &DeviceError{
			Type:           ErrTypeTransport,
			Message:        message,
			Err:            err,
			NetworkSubtype: subtype,
			Address:        address,
		}
	}

	if errors.Is(err, context.Canceled) {
		return transport(NetworkErrorCanceled, "Request canceled")
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return transport(NetworkErrorDNS, fmt.Sprintf("DNS resolution failed for %s", dnsErr.Name))
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return transport(NetworkErrorConnectionRefused, "Controller refused connection")
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return transport(NetworkErrorConnectionReset, "Connection reset by controller")
	case errors.Is(err, syscall.EHOSTUNREACH):
		return transport(NetworkErrorHostUnreachable, "Host unreachable")
	case errors.Is(err, syscall.ENETUNREACH):
		return transport(NetworkErrorNetworkUnreachable, "Network unreachable")
	}

	return transport(NetworkErrorGeneral, "Network error occurred")
}

// NewTransportError creates a transport-level error with automatic classification
func NewTransportError(address, path, message string, err error) *DeviceError {
	classified := ClassifyNetworkError(err, address)
	if classified == nil {
		classified = &DeviceError{Type: ErrTypeTransport, Address: address}
	}
	if classified.Type == ErrTypeTransport && message != "" {
		classified.Message = message
	}
	classified.Path = path
	return classified
}

// NewDecodeError creates a decode error carrying a truncated body sample
func NewDecodeError(address, path string, body []byte, err error) *DeviceError {
	return &DeviceError{
		Type:       ErrTypeDecode,
		Message:    "invalid JSON from controller",
		Err:        err,
		Address:    address,
		Path:       path,
		BodySample: sample(body),
	}
}

// NewCommandRejectedError creates an error for a command the controller refused
func NewCommandRejectedError(address, path, reason string, body []byte) *DeviceError {
	return &DeviceError{
		Type:       ErrTypeCommandRejected,
		Message:    reason,
		Address:    address,
		Path:       path,
		BodySample: sample(body),
	}
}

// NewValidationError creates a validation error
func NewValidationError(message string) *DeviceError {
	return &DeviceError{
		Type:    ErrTypeValidation,
		Message: message,
	}
}

func sample(body []byte) string {
	runes := []rune(string(body))
	if len(runes) > bodySampleLength {
		runes = runes[:bodySampleLength]
	}
	return string(runes)
}

func errorType(err error) (ErrorType, bool) {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr.Type, true
	}
	return 0, false
}

// IsTransportError checks if an error is a transport error
func IsTransportError(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrTypeTransport
}

// IsTimeoutError checks if an error is a timeout error
func IsTimeoutError(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrTypeTimeout
}

// IsDecodeError checks if an error is a decode error
func IsDecodeError(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrTypeDecode
}

// IsCommandRejected checks if an error is a rejected command
func IsCommandRejected(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrTypeCommandRejected
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrTypeValidation
}

// IsUnreachable reports whether an error means the controller could not be
// reached at all. Timeouts are treated identically to transport errors.
func IsUnreachable(err error) bool {
	return IsTransportError(err) || IsTimeoutError(err)
}

// TroubleshootingHint returns operator-facing advice for an error
func TroubleshootingHint(err error) []string {
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		return nil
	}

	switch devErr.Type {
	case ErrTypeTimeout:
		return []string{
			"Check that the controller is powered on",
			"Verify the controller address in the device registry",
			"The controller handles one request at a time; stop other clients polling it",
		}

	case ErrTypeTransport:
		switch devErr.NetworkSubtype {
		case NetworkErrorConnectionRefused:
			return []string{
				"The controller's CGI server is not accepting connections",
				"Power cycle the controller",
				"Verify the port (default is 80)",
			}
		case NetworkErrorDNS:
			return []string{
				"Use the controller's IP address instead of a hostname",
			}
		case NetworkErrorHostUnreachable, NetworkErrorNetworkUnreachable:
			return []string{
				"Check that this machine is on the controller's network",
				"Try pinging the controller: ping " + devErr.Address,
			}
		default:
			return []string{
				"Check your network connection",
				"Verify the controller is powered on",
			}
		}

	case ErrTypeDecode:
		return []string{
			"The controller returned a response that is not JSON",
			"Run 'dtvplus-cfg dump' with DTVPLUS_LOG_LEVEL=debug to see the raw bytes",
		}

	case ErrTypeCommandRejected:
		return []string{
			"The controller answered but did not accept the command",
			"Check that the requested outlets and temperatures are valid for this installation",
		}

	default:
		return nil
	}
}

// ShortErrorMessage returns a concise, user-friendly error message
func ShortErrorMessage(err error) string {
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		return err.Error()
	}

	switch devErr.Type {
	case ErrTypeTimeout:
		return "Controller not responding (timeout)"
	case ErrTypeTransport:
		switch devErr.NetworkSubtype {
		case NetworkErrorConnectionRefused:
			return "Controller refused connection"
		case NetworkErrorConnectionReset:
			return "Connection reset by controller"
		case NetworkErrorDNS:
			return "Cannot resolve controller hostname"
		case NetworkErrorHostUnreachable:
			return "Controller unreachable - check network connection"
		case NetworkErrorNetworkUnreachable:
			return "Network unreachable"
		case NetworkErrorCanceled:
			return "Request canceled"
		default:
			return "Network error - check connection"
		}
	case ErrTypeDecode:
		return "Failed to parse controller response"
	case ErrTypeCommandRejected:
		return "Controller rejected the command"
	default:
		return devErr.Message
	}
}
