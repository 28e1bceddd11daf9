// Package dispatch classifies the lifecycle events an update engine reports
// and tells the engine how to proceed.
package dispatch

import (
	"fmt"
	"io"
	"math/bits"
	"runtime/metrics"

	"github.com/amazonlinux/bottlerocket/otaboot/pkg/internal/logfields"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/lifecycle"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/logging"
	agentmetrics "github.com/amazonlinux/bottlerocket/otaboot/pkg/metrics"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// cursorPrevLine moves the cursor to the start of the previous line so the
// next progress line overwrites the last.
const cursorPrevLine = "\x1b[1F"

const heapMetric = "/memory/classes/heap/objects:bytes"

// Dispatcher is the engine callback. It keeps no state between calls and may
// be called from any goroutine.
type Dispatcher struct {
	log     logging.Logger
	term    io.Writer
	metrics *agentmetrics.Metrics
}

// New returns a Dispatcher logging to log and drawing the storage progress
// line on term.
func New(log logging.Logger, term io.Writer, m *agentmetrics.Metrics) *Dispatcher {
	return &Dispatcher{log: log, term: term, metrics: m}
}

// Classify handles one event and returns the engine's next directive.
func (d *Dispatcher) Classify(e *lifecycle.Event) lifecycle.Directive {
	if e == nil {
		d.log.Error("received nil lifecycle event")
		return d.directive(lifecycle.Stop)
	}
	d.metrics.Event(e.Reason.String())

	log := d.log.WithFields(logfields.Event(e))
	d.heapUsage(log)

	switch e.Reason {
	case lifecycle.ReasonSuccess:
		log.Info("ota success")
	case lifecycle.ReasonFailure:
		log.Error("ota failure")
	case lifecycle.ReasonStateChange:
		if !e.State.Valid() {
			break
		}
		return d.directive(stateHandlers[e.State](d, log, e))
	}
	return d.directive(lifecycle.Continue)
}

func (d *Dispatcher) directive(dir lifecycle.Directive) lifecycle.Directive {
	d.metrics.Directive(dir.String())
	return dir
}

func (d *Dispatcher) heapUsage(log logrus.FieldLogger) {
	sample := []metrics.Sample{{Name: heapMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return
	}
	log.Debugf("heap in use %s", humanize.IBytes(sample[0].Value.Uint64()))
}

// Percent is the share of total already written, 0 when total is unknown.
func Percent(written, total uint64) uint32 {
	if total == 0 {
		return 0
	}
	if written >= total {
		return 100
	}
	hi, lo := bits.Mul64(written, 100)
	q, _ := bits.Div64(hi, lo, total)
	return uint32(q)
}

type handler func(d *Dispatcher, log logrus.FieldLogger, e *lifecycle.Event) lifecycle.Directive

// stateHandlers must hold a handler for every state; see
// TestStateHandlersCoverEveryState.
var stateHandlers = [lifecycle.NumStates]handler{
	lifecycle.StateNotInitialized: quiet,
	lifecycle.StateExiting:        quiet,
	lifecycle.StateInitializing:   quiet,
	lifecycle.StateAgentStarted:   quiet,
	lifecycle.StateAgentWaiting:   quiet,

	lifecycle.StateStartUpdate: marker,

	lifecycle.StateJobConnect:    jobConnect,
	lifecycle.StateDataConnect:   connect,
	lifecycle.StateResultConnect: connect,

	lifecycle.StateJobDownload:  file,
	lifecycle.StateDataDownload: documentAndFile,
	lifecycle.StateResultSend:   document,

	lifecycle.StateJobDisconnect:    marker,
	lifecycle.StateJobParse:         jobParse,
	lifecycle.StateJobRedirect:      marker,
	lifecycle.StateDataDisconnect:   marker,
	lifecycle.StateResultResponse:   marker,
	lifecycle.StateResultDisconnect: marker,
	lifecycle.StateResultRedirect:   marker,
	lifecycle.StateComplete:         marker,
	lifecycle.StateStorageOpen:      marker,
	lifecycle.StateStorageClose:     marker,
	lifecycle.StateVerify:           marker,

	lifecycle.StateStorageWrite: storageWrite,
}

func quiet(*Dispatcher, logrus.FieldLogger, *lifecycle.Event) lifecycle.Directive {
	return lifecycle.Continue
}

func marker(_ *Dispatcher, log logrus.FieldLogger, e *lifecycle.Event) lifecycle.Directive {
	log.Infof("ota %s", e.State)
	return lifecycle.Continue
}

func connect(_ *Dispatcher, log logrus.FieldLogger, e *lifecycle.Event) lifecycle.Directive {
	log.WithFields(logfields.Server(e)).Infof("ota %s", e.State)
	return lifecycle.Continue
}

// jobConnect refuses a job connection with no complete target; it is the
// only event the dispatcher stops a session for.
func jobConnect(_ *Dispatcher, log logrus.FieldLogger, e *lifecycle.Event) lifecycle.Directive {
	log = log.WithFields(logfields.Server(e))
	malformed := false
	if e.Server.Host == "" {
		log.Error("malformed job connect event: missing server host")
		malformed = true
	}
	if e.Server.Port == 0 {
		log.Error("malformed job connect event: missing server port")
		malformed = true
	}
	if e.File == "" {
		log.Error("malformed job connect event: missing job file")
		malformed = true
	}
	if malformed {
		return lifecycle.Stop
	}
	log.Infof("ota %s", e.State)
	return lifecycle.Continue
}

func file(_ *Dispatcher, log logrus.FieldLogger, e *lifecycle.Event) lifecycle.Directive {
	log.WithField("file", e.File).Infof("ota %s", e.State)
	return lifecycle.Continue
}

func document(_ *Dispatcher, log logrus.FieldLogger, e *lifecycle.Event) lifecycle.Directive {
	log.WithField("document", e.Document).Infof("ota %s", e.State)
	return lifecycle.Continue
}

func documentAndFile(_ *Dispatcher, log logrus.FieldLogger, e *lifecycle.Event) lifecycle.Directive {
	log.WithFields(logrus.Fields{
		"document": e.Document,
		"file":     e.File,
	}).Infof("ota %s", e.State)
	return lifecycle.Continue
}

func jobParse(_ *Dispatcher, log logrus.FieldLogger, e *lifecycle.Event) lifecycle.Directive {
	log.Infof("ota %s", e.State)
	log.Info(e.Document)
	return lifecycle.Continue
}

func storageWrite(d *Dispatcher, _ logrus.FieldLogger, e *lifecycle.Event) lifecycle.Directive {
	if d.term == nil {
		return lifecycle.Continue
	}
	fmt.Fprintf(d.term, "STORAGE WRITE %d%% (%d of %d)\n%s",
		Percent(e.BytesWritten, e.TotalSize), e.BytesWritten, e.TotalSize, cursorPrevLine)
	return lifecycle.Continue
}
