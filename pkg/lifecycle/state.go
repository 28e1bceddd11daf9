package lifecycle

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// State is a phase of the engine's update session.
type State int

const (
	StateNotInitialized State = iota
	StateExiting
	StateInitializing
	StateAgentStarted
	StateAgentWaiting
	StateStartUpdate
	StateJobConnect
	StateJobDownload
	StateJobDisconnect
	StateJobParse
	StateJobRedirect
	StateDataConnect
	StateDataDownload
	StateDataDisconnect
	StateResultConnect
	StateResultSend
	StateResultResponse
	StateResultDisconnect
	StateComplete
	StateStorageOpen
	StateStorageWrite
	StateStorageClose
	StateVerify
	StateResultRedirect

	// NumStates is a sentinel sizing per-state tables.
	NumStates
)

var stateNames = [...]string{
	StateNotInitialized:   "not-initialized",
	StateExiting:          "exiting",
	StateInitializing:     "initializing",
	StateAgentStarted:     "agent-started",
	StateAgentWaiting:     "agent-waiting",
	StateStartUpdate:      "start-update",
	StateJobConnect:       "job-connect",
	StateJobDownload:      "job-download",
	StateJobDisconnect:    "job-disconnect",
	StateJobParse:         "job-parse",
	StateJobRedirect:      "job-redirect",
	StateDataConnect:      "data-connect",
	StateDataDownload:     "data-download",
	StateDataDisconnect:   "data-disconnect",
	StateResultConnect:    "result-connect",
	StateResultSend:       "result-send",
	StateResultResponse:   "result-response",
	StateResultDisconnect: "result-disconnect",
	StateComplete:         "ota-complete",
	StateStorageOpen:      "storage-open",
	StateStorageWrite:     "storage-write",
	StateStorageClose:     "storage-close",
	StateVerify:           "verify",
	StateResultRedirect:   "result-redirect",
	NumStates:             "invalid",
}

// String is the engine's human readable name for the State.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Valid reports whether the State is a real phase and not a sentinel.
func (s State) Valid() bool {
	return s >= 0 && s < NumStates
}

// MarshalText encodes the State by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a State from its name. Names of states this build
// does not know decode to NumStates, which is not Valid.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames[:NumStates] {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	*s = NumStates
	return nil
}

// UnmarshalJSON decodes a State from its name or its ordinal.
func (s *State) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*s = State(n)
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return errors.Wrap(err, "state must be a name or an ordinal")
	}
	return s.UnmarshalText([]byte(name))
}
