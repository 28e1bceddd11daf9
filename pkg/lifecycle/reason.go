package lifecycle

import "github.com/pkg/errors"

// Reason is why the engine is reporting an event.
type Reason int

const (
	ReasonStateChange Reason = iota
	ReasonSuccess
	ReasonFailure
	// LastReason is a sentinel and is never a meaningful reason.
	LastReason
)

var reasonNames = [...]string{
	ReasonStateChange: "state-change",
	ReasonSuccess:     "success",
	ReasonFailure:     "failure",
	LastReason:        "last",
}

func (r Reason) String() string {
	if r < 0 || int(r) >= len(reasonNames) {
		return "unknown"
	}
	return reasonNames[r]
}

// MarshalText encodes the Reason by name.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a Reason from its name.
func (r *Reason) UnmarshalText(text []byte) error {
	for i, name := range reasonNames {
		if name == string(text) {
			*r = Reason(i)
			return nil
		}
	}
	return errors.Errorf("unknown reason %q", text)
}
