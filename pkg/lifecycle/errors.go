package lifecycle

import "fmt"

// ErrorCode is the engine's last recorded error for a session.
type ErrorCode int

const (
	ErrorNone ErrorCode = iota
	ErrorUnsupported
	ErrorGeneral
	ErrorBadParam
	ErrorOutOfMemory
	ErrorAlreadyStarted
	ErrorNotStarted
	ErrorStorageInit
	ErrorStorageOpen
	ErrorStorageWrite
	ErrorStorageClose
	ErrorStorageVerify
	ErrorReboot
	ErrorConnect
	ErrorDisconnect
	ErrorGet
	ErrorSendResult
	ErrorJobParse
	ErrorRedirect
	ErrorDataDownload
	ErrorInvalidVersion
	ErrorAppExited
	ErrorNoUpdate
)

var errorNames = [...]string{
	ErrorNone:           "none",
	ErrorUnsupported:    "unsupported",
	ErrorGeneral:        "general",
	ErrorBadParam:       "bad-param",
	ErrorOutOfMemory:    "out-of-memory",
	ErrorAlreadyStarted: "already-started",
	ErrorNotStarted:     "not-started",
	ErrorStorageInit:    "storage-init",
	ErrorStorageOpen:    "storage-open",
	ErrorStorageWrite:   "storage-write",
	ErrorStorageClose:   "storage-close",
	ErrorStorageVerify:  "verify",
	ErrorReboot:         "reboot",
	ErrorConnect:        "connect",
	ErrorDisconnect:     "disconnect",
	ErrorGet:            "get",
	ErrorSendResult:     "send-result",
	ErrorJobParse:       "job-parse",
	ErrorRedirect:       "redirect",
	ErrorDataDownload:   "data-download",
	ErrorInvalidVersion: "invalid-version",
	ErrorAppExited:      "app-exited",
	ErrorNoUpdate:       "no-update",
}

func (e ErrorCode) String() string {
	if e < 0 || int(e) >= len(errorNames) {
		return fmt.Sprintf("unknown(%d)", int(e))
	}
	return errorNames[e]
}
