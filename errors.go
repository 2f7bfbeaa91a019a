package inkwell

import "errors"

var (
	// ErrNotFound is returned when a document, binder or channel does not exist.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned by operations on a closed binder, store or transport.
	ErrClosed = errors.New("closed")

	// ErrTransportUnavailable is returned when the underlying transport cannot
	// be reached. Callers may retry.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrChannelDenied is returned when the channel policy refuses a publish or
	// subscribe. No I/O has happened when it is returned.
	ErrChannelDenied = errors.New("channel denied")

	// ErrCorrupt is returned when an event's checksum does not match its payload.
	ErrCorrupt = errors.New("corrupt event")

	// ErrCorruptDocument is returned when stored document bytes fail to decode.
	ErrCorruptDocument = errors.New("corrupt document")

	// ErrUnknownCommand is returned when executing a command that was never created.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrUnknownProjection is returned when stopping or rebuilding a projection
	// that is not live.
	ErrUnknownProjection = errors.New("unknown projection")

	// ErrProjectionSetupFailed is returned by projection creation when the
	// destination binder or the subscription cannot be established.
	ErrProjectionSetupFailed = errors.New("projection setup failed")

	// ErrProjectionExists is returned when creating a projection whose name is
	// already live.
	ErrProjectionExists = errors.New("projection already exists")
)
