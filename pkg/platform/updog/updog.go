package updog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/amazonlinux/bottlerocket/otaboot/pkg/internal/logfields"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/lifecycle"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/logging"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/platform"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// maxEventSize bounds one JSON event line; job documents can be large.
const maxEventSize = 1 << 20

var (
	errStopped   = errors.New("session stopped by directive")
	errAppFailed = errors.New("application reported failure")
)

// Engine runs updog as the update engine. updog reports each lifecycle event
// as a JSON line on stdout and waits for the directive on stdin.
type Engine struct {
	log    logging.Logger
	bin    string
	dir    string
	reboot func(context.Context) error
}

var _ platform.Engine = (*Engine)(nil)

// NewEngine runs bin from the working directory dir.
func NewEngine(log logging.Logger, bin, dir string) *Engine {
	return &Engine{log: log, bin: bin, dir: dir, reboot: rebootHost}
}

// stagedStorage is storage whose image lives in a file the engine can write
// directly.
type stagedStorage interface {
	Path() string
}

func (e *Engine) args(n platform.NetworkParams, a platform.AgentParams, storage platform.Storage) []string {
	scheme := n.Connection
	if n.Transport != nil && n.Transport.Scheme != "" {
		scheme = n.Transport.Scheme
	}
	args := []string{CommandAgent,
		FlagServerHost, n.Server.Host,
		FlagServerPort, strconv.Itoa(int(n.Server.Port)),
		FlagFile, n.File,
		FlagConnection, string(scheme),
	}
	if n.UseJobFlow {
		args = append(args, FlagFlow, FlowJob)
	} else {
		args = append(args, FlagFlow, FlowDirect)
	}
	if n.Transport != nil {
		args = append(args, FlagBind, n.Transport.Local.String())
		if c := n.Transport.TLS; c != nil && c.ServerName != "" {
			args = append(args, FlagServerName, c.ServerName)
		}
	}
	for _, cred := range []struct{ flag, path string }{
		{FlagRootCA, n.Credentials.RootCA},
		{FlagClientCert, n.Credentials.ClientCert},
		{FlagClientKey, n.Credentials.ClientKey},
	} {
		if cred.path != "" {
			args = append(args, cred.flag, cred.path)
		}
	}
	if s, ok := storage.(stagedStorage); ok {
		args = append(args, FlagStaging, s.Path())
	}
	if a.ValidateAfterReboot {
		args = append(args, FlagValidateAfterReboot)
	}
	if a.DoNotSendResult {
		args = append(args, FlagNoSendResult)
	}
	return args
}

// Start launches the engine and pumps its events to the agent's callback
// until the session ends.
func (e *Engine) Start(ctx context.Context, n platform.NetworkParams, a platform.AgentParams, storage platform.Storage) (platform.Session, error) {
	if a.Callback == nil {
		return nil, errors.New("no event callback provided")
	}
	cmd := exec.CommandContext(ctx, e.bin, e.args(n, a, storage)...)
	cmd.Dir = e.dir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "unable to attach engine output")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "unable to attach engine input")
	}
	stderr := e.log.WriterLevel(logrus.WarnLevel)
	cmd.Stderr = stderr

	if logging.Debuggable {
		e.log.WithField("cmd", cmd.String()).Debug("executing")
	}
	if err := cmd.Start(); err != nil {
		stderr.Close()
		return nil, errors.Wrap(err, "unable to start engine")
	}

	s := newSession(e.log, a, storage)
	go func() {
		err := s.pump(stdout, stdin)
		if errors.Cause(err) == errStopped {
			cmd.Process.Kill()
		}
		stdin.Close()
		// Drain so the engine never blocks writing after the session ends.
		io.Copy(io.Discard, stdout)
		werr := cmd.Wait()
		stderr.Close()
		if err == nil && werr != nil && !s.succeeded {
			err = errors.Wrap(werr, "engine exited")
		}
		if err == nil && s.succeeded && a.RebootOnCompletion {
			s.log.Info("update complete, rebooting")
			err = errors.Wrap(e.reboot(ctx), "unable to reboot")
		}
		s.finish(err)
	}()
	return s, nil
}

type session struct {
	log      logging.Logger
	callback platform.Callback
	storage  platform.Storage

	lastError atomic.Int32
	succeeded bool

	once sync.Once
	done chan struct{}
	err  error
}

var _ platform.Session = (*session)(nil)

func newSession(log logging.Logger, a platform.AgentParams, storage platform.Storage) *session {
	return &session{
		log:      log,
		callback: a.Callback,
		storage:  storage,
		done:     make(chan struct{}),
	}
}

func (s *session) Wait() error {
	<-s.done
	return s.err
}

func (s *session) LastError() lifecycle.ErrorCode {
	return lifecycle.ErrorCode(s.lastError.Load())
}

func (s *session) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// pump reads events from r one at a time, hands each to the callback and
// replies with the directive on w. Events are handled strictly in order.
func (s *session) pump(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if logging.Debuggable {
			s.log.WithField("event", string(line)).Debug("engine event")
		}
		var ev lifecycle.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			// The engine waits for a reply to every line it sends.
			s.log.WithError(err).Warn("discarding undecodable engine event")
			if _, err := fmt.Fprintln(w, lifecycle.Continue); err != nil {
				return errors.Wrap(err, "unable to reply to engine")
			}
			continue
		}
		s.lastError.Store(int32(ev.LastError))

		if err := s.storageEvent(&ev); err != nil {
			s.log.WithFields(logfields.Event(&ev)).WithError(err).Error("storage operation failed")
			return errors.WithMessage(errStopped, err.Error())
		}

		dir := s.callback(&ev)
		if _, err := fmt.Fprintln(w, dir); err != nil {
			return errors.Wrap(err, "unable to reply to engine")
		}
		if ev.Reason == lifecycle.ReasonSuccess && ev.State == lifecycle.StateComplete {
			s.succeeded = true
		}
		switch dir {
		case lifecycle.Stop:
			return errStopped
		case lifecycle.AppSucceeded:
			s.succeeded = true
			return nil
		case lifecycle.AppFailed:
			return errAppFailed
		}
	}
	return errors.Wrap(scanner.Err(), "reading engine events")
}

// storageEvent runs the storage operation the engine announces. The engine
// writes image data into the staged file itself.
func (s *session) storageEvent(ev *lifecycle.Event) error {
	if s.storage == nil || ev.Reason != lifecycle.ReasonStateChange {
		return nil
	}
	var (
		err  error
		code lifecycle.ErrorCode
	)
	switch ev.State {
	case lifecycle.StateStorageOpen:
		err, code = s.storage.Open(), lifecycle.ErrorStorageOpen
	case lifecycle.StateStorageClose:
		err, code = s.storage.Close(), lifecycle.ErrorStorageClose
	case lifecycle.StateVerify:
		err, code = s.storage.Verify(), lifecycle.ErrorStorageVerify
	default:
		return nil
	}
	if err != nil {
		s.lastError.Store(int32(code))
	}
	return err
}
