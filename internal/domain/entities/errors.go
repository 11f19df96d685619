package entities

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelClosed is returned by Send on a channel that has died
	ErrChannelClosed = errors.New("channel closed")
	// ErrPollTimeout marks a fallback session whose client stopped polling
	ErrPollTimeout = errors.New("poll timeout exceeded")
	// ErrBufferFull is returned when a fallback send could not be buffered in time
	ErrBufferFull = errors.New("send buffer full")
	// ErrHotUpdateRejected is returned by a page that cannot apply a hot update
	ErrHotUpdateRejected = errors.New("hot update rejected")
	// ErrServerStopped is returned for work handed to a stopped server
	ErrServerStopped = errors.New("server stopped")
)

// TransportError reports a dead or unreachable channel. It is local to one
// connection and results in that connection being unregistered.
type TransportError struct {
	ConnID    string
	Transport string
	Op        string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s on %s: %v", e.Transport, e.Op, e.ConnID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolDecodeError reports a malformed wire message
type ProtocolDecodeError struct {
	Raw []byte
	Err error
}

func (e *ProtocolDecodeError) Error() string {
	raw := string(e.Raw)
	if len(raw) > 64 {
		raw = raw[:64] + "..."
	}
	return fmt.Sprintf("decoding message %q: %v", raw, e.Err)
}

func (e *ProtocolDecodeError) Unwrap() error {
	return e.Err
}

// BuildPipelineError reports a failure of the build pipeline itself, as
// opposed to compile errors in the user's code
type BuildPipelineError struct {
	Cycle uint64
	Err   error
}

func (e *BuildPipelineError) Error() string {
	return fmt.Sprintf("build pipeline failed in cycle %d: %v", e.Cycle, e.Err)
}

func (e *BuildPipelineError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports an invalid option. It is fatal at construction.
type ConfigurationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// IsConfigurationError reports whether err carries a ConfigurationError
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// IsTransportError reports whether err carries a TransportError
func IsTransportError(err error) bool {
	var tErr *TransportError
	return errors.As(err, &tErr)
}
