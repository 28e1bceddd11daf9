// Package netconn brings the wired network up for the agent and holds the
// resulting endpoint for the life of the process.
package netconn

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/amazonlinux/bottlerocket/otaboot/pkg/logging"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/metrics"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/platform"
	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxRetries = 10
	DefaultRetryDelay = 500 * time.Millisecond
)

// Endpoint is the live network endpoint: the leased address and the
// interface it is bound to. It is never modified after Connect returns it.
type Endpoint struct {
	Addr      netip.Addr
	Interface platform.Interface
}

func (e *Endpoint) String() string {
	return e.Addr.String()
}

// Supervisor establishes the network connection with bounded retry.
type Supervisor struct {
	log        logging.Logger
	manager    platform.ConnectionManager
	clock      clock.Clock
	maxRetries int
	retryDelay time.Duration
	metrics    *metrics.Metrics
}

// Option adjusts a Supervisor.
type Option func(*Supervisor)

// WithClock sets the clock inter-attempt delays are waited on.
func WithClock(c clock.Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// WithRetry sets the attempt bound and the delay between failed attempts.
// At least one attempt is always made, and a delay that is not positive
// falls back to DefaultRetryDelay.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(s *Supervisor) {
		s.maxRetries = maxRetries
		s.retryDelay = delay
	}
}

// WithMetrics records connection attempts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

func NewSupervisor(log logging.Logger, manager platform.ConnectionManager, opts ...Option) *Supervisor {
	s := &Supervisor{
		log:        log,
		manager:    manager,
		clock:      clock.WallClock,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxRetries < 1 {
		log.WithField("max-retries", s.maxRetries).Warn("retry bound below one, making a single attempt")
		s.maxRetries = 1
	}
	if s.retryDelay <= 0 {
		log.WithField("delay", s.retryDelay).Warnf("invalid retry delay, using %s", DefaultRetryDelay)
		s.retryDelay = DefaultRetryDelay
	}
	return s
}

// Connect initializes the connection manager and the interface, then
// attempts to connect up to the configured number of times. Initialization
// failures are returned without any connection attempt. Connection failures
// are retried alike, whatever their code.
func (s *Supervisor) Connect(ctx context.Context, id platform.InterfaceID, phy platform.PHY) (*Endpoint, error) {
	log := s.log.WithField("interface", id)

	if err := s.manager.Init(); err != nil {
		log.WithError(err).Error("connection manager initialization failed")
		return nil, &initError{stage: "connection manager", err: err}
	}

	log.Debug("initializing interface")
	iface, err := s.manager.InterfaceInit(id, phy)
	if err != nil {
		log.WithError(err).Error("interface initialization failed")
		return nil, &initError{stage: "interface " + string(id), err: err}
	}

	var addr netip.Addr
	err = retry.Call(retry.CallArgs{
		Func: func() error {
			log.Debug("initiating connect")
			a, err := s.manager.Connect(ctx, iface)
			if err != nil {
				s.metrics.ConnectAttempt(false)
				return err
			}
			s.metrics.ConnectAttempt(true)
			addr = a
			return nil
		},
		NotifyFunc: func(err error, attempt int) {
			alog := log.WithFields(logrus.Fields{
				"attempt": attempt,
				"code":    platform.Code(err),
			}).WithError(err)
			if attempt >= s.maxRetries {
				alog.Warn("connection to network failed")
				return
			}
			alog.WithField("delay", s.retryDelay).Warnf("connection to network failed, retrying in %d ms", s.retryDelay.Milliseconds())
		},
		Attempts: s.maxRetries,
		Delay:    s.retryDelay,
		Clock:    s.clock,
		Stop:     ctx.Done(),
	})
	switch {
	case err == nil:
	case retry.IsAttemptsExceeded(err):
		log.WithField("attempts", s.maxRetries).Error("exceeded maximum connection attempts")
		return nil, &exhaustedError{attempts: s.maxRetries, last: retry.LastError(err)}
	case retry.IsRetryStopped(err):
		return nil, errors.Wrap(ctx.Err(), "connect interrupted")
	default:
		return nil, errors.Wrap(err, "connect")
	}

	ep := &Endpoint{Addr: addr, Interface: iface}
	log.WithField("address", ep).Infof("connected, ip address assigned: %s", ep)
	return ep, nil
}

type exhaustedError struct {
	attempts int
	last     error
}

func (e *exhaustedError) Error() string {
	if e.last == nil {
		return fmt.Sprintf("exceeded %d connection attempts", e.attempts)
	}
	return fmt.Sprintf("exceeded %d connection attempts: %v", e.attempts, e.last)
}

func (e *exhaustedError) Cause() error  { return e.last }
func (e *exhaustedError) Unwrap() error { return e.last }

// IsExhausted reports whether err is the result of every connection attempt
// failing.
func IsExhausted(err error) bool {
	var e *exhaustedError
	return errors.As(err, &e)
}

// initError is a failure to initialize, which retrying cannot fix.
type initError struct {
	stage string
	err   error
}

func (e *initError) Error() string {
	return e.stage + " initialization failed: " + e.err.Error()
}

func (e *initError) Cause() error  { return e.err }
func (e *initError) Unwrap() error { return e.err }

// IsInitFailure reports whether err came from initializing the connection
// manager or the interface rather than from connecting.
func IsInitFailure(err error) bool {
	var e *initError
	return errors.As(err, &e)
}
