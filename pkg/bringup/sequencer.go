// Package bringup runs the fixed, ordered startup of the agent. Every step
// must succeed for the agent to run: the first failure ends the process.
package bringup

import (
	"context"
	"os"

	"github.com/amazonlinux/bottlerocket/otaboot/pkg/logging"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/metrics"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/coreos/go-systemd/v22/util"
	"github.com/pkg/errors"
)

// Step is one bring-up action. Failure is logged when Action fails.
type Step struct {
	Name    string
	Action  func(context.Context) error
	Failure string
}

// Sequencer runs steps in order with no retry and no rollback.
type Sequencer struct {
	log     logging.Logger
	metrics *metrics.Metrics

	exit   func(code int)
	notify func() error
}

// Option adjusts a Sequencer.
type Option func(*Sequencer)

// WithExit replaces how the process is ended on a failed step.
func WithExit(exit func(code int)) Option {
	return func(s *Sequencer) { s.exit = exit }
}

// WithNotify replaces how readiness is signaled.
func WithNotify(notify func() error) Option {
	return func(s *Sequencer) { s.notify = notify }
}

func New(log logging.Logger, m *metrics.Metrics, opts ...Option) *Sequencer {
	s := &Sequencer{
		log:     log,
		metrics: m,
		exit:    os.Exit,
		notify:  notifyReady,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes steps synchronously. When a step fails the process exits
// with status 1. Once all steps succeed readiness is signaled and Run holds
// until ctx is done.
func (s *Sequencer) Run(ctx context.Context, steps []Step) error {
	for _, step := range steps {
		log := s.log.WithField("step", step.Name)
		log.Debug("starting step")
		if err := step.Action(ctx); err != nil {
			s.metrics.Step(step.Name, false)
			log.WithError(err).Error(step.Failure)
			s.exit(1)
			return errors.Wrap(err, step.Failure)
		}
		s.metrics.Step(step.Name, true)
	}

	if err := s.notify(); err != nil {
		s.log.WithError(err).Warn("unable to notify service manager of readiness")
	}
	s.log.Info("bring-up complete")

	<-ctx.Done()
	s.log.Debug("bring-up released")
	return nil
}

func notifyReady() error {
	if !util.IsRunningSystemd() {
		return nil
	}
	_, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	return errors.Wrap(err, "sd_notify")
}
