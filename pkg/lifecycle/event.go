// Package lifecycle models what an update engine reports while it runs an
// update session and what the host may tell it in return.
package lifecycle

// Server is the connection target for the current phase.
type Server struct {
	Host string `json:"host"`
	Port uint16 `json:"port"`
}

// Event describes one point in an update session. Events are values: the
// engine produces a fresh Event for every callback and receivers must not
// keep or mutate them.
type Event struct {
	Reason Reason `json:"reason"`
	State  State  `json:"state"`
	Server Server `json:"server"`
	// File is the resource requested during the phase.
	File string `json:"file"`
	// Document is an opaque diagnostic payload, like the job document or
	// the request sent to the server.
	Document string `json:"document"`

	// Progress counters, meaningful while writing to storage.
	BytesWritten uint64 `json:"bytes_written"`
	TotalSize    uint64 `json:"total_size"`
	Percentage   uint32 `json:"percentage"`

	// LastError is the engine's last recorded error at the time of the
	// event.
	LastError ErrorCode `json:"last_error"`
}

// Directive tells the engine how to proceed after an event.
type Directive int

const (
	// Continue lets the engine carry on with the session.
	Continue Directive = iota
	// Stop ends the current update session.
	Stop
	// AppSucceeded reports the application finished the session's work.
	AppSucceeded
	// AppFailed reports the application failed the session's work.
	AppFailed
)

func (d Directive) String() string {
	switch d {
	case Continue:
		return "continue"
	case Stop:
		return "stop"
	case AppSucceeded:
		return "app-success"
	case AppFailed:
		return "app-failed"
	}
	return "unknown"
}
