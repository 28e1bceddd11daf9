package logfields

import (
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/lifecycle"

	"github.com/sirupsen/logrus"
)

// Event returns the fields identifying a lifecycle event in log lines.
func Event(e *lifecycle.Event) logrus.Fields {
	return logrus.Fields{
		"reason":     e.Reason.String(),
		"state":      e.State.String(),
		"last-error": e.LastError.String(),
	}
}

// Server returns the connection target fields of a lifecycle event.
func Server(e *lifecycle.Event) logrus.Fields {
	return logrus.Fields{
		"host": e.Server.Host,
		"port": e.Server.Port,
		"file": e.File,
	}
}
