package onesmart

import "errors"

// Domain errors for the One Smart gateway client.
var (
	// ErrNotConnected is returned when an operation needs a channel that is
	// not in the Ready state.
	ErrNotConnected = errors.New("onesmart: not connected to gateway")

	// ErrConnectionFailed is returned when the TLS connection cannot be
	// established.
	ErrConnectionFailed = errors.New("onesmart: connection to gateway failed")

	// ErrConnectionLost is returned when the gateway closes the stream or a
	// read fails mid-operation.
	ErrConnectionLost = errors.New("onesmart: connection to gateway lost")

	// ErrAuthFailed is returned when the gateway rejects the credentials.
	ErrAuthFailed = errors.New("onesmart: authentication rejected")

	// ErrSendFailed is returned when a command cannot be written.
	ErrSendFailed = errors.New("onesmart: command send failed")

	// ErrCommandTimeout is returned when no response arrives within the
	// command timeout.
	ErrCommandTimeout = errors.New("onesmart: command timed out")

	// ErrGatewayError is returned when a response carries an "error" field.
	ErrGatewayError = errors.New("onesmart: gateway returned an error")

	// ErrCommandQueued is returned by Wrapper.Command when the channel is
	// down. The command was accepted and will be sent once the channel is
	// back.
	ErrCommandQueued = errors.New("onesmart: channel busy, command queued")

	// ErrQueueFull is returned when the outbound queue cannot take more
	// commands.
	ErrQueueFull = errors.New("onesmart: outbound queue full")

	// ErrProtocolDesync is returned when the inbound buffer grows past its
	// limit without a frame delimiter.
	ErrProtocolDesync = errors.New("onesmart: protocol desync")

	// ErrMalformedFrame is returned when a frame is not a JSON object.
	ErrMalformedFrame = errors.New("onesmart: malformed frame")

	// ErrInvalidFlag is returned for update flags that name no known fetch.
	ErrInvalidFlag = errors.New("onesmart: invalid update flag")

	// ErrEmptyDefinitions is returned by Setup when the gateway authenticated
	// but returned no meters, devices or site.
	ErrEmptyDefinitions = errors.New("onesmart: gateway returned empty definitions")

	// ErrUnexpectedResult is returned when a result does not have the
	// expected shape.
	ErrUnexpectedResult = errors.New("onesmart: unexpected result shape")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("onesmart: client closed")
)
