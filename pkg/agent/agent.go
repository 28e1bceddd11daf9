package agent

import (
	"context"
	"io"

	"github.com/amazonlinux/bottlerocket/otaboot/pkg/bringup"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/config"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/dispatch"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/lifecycle"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/logging"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/metrics"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/netconn"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/platform"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/transport"
	"github.com/pkg/errors"
)

// Bring-up step names.
const (
	StepStorageInit    = "storage-init"
	StepImageValidate  = "image-validate"
	StepNetworkConnect = "network-connect"
	StepTransportInit  = "transport-init"
	StepAgentStart     = "agent-start"
)

// Providers are the platform collaborators the Agent drives.
type Providers struct {
	Storage platform.Storage
	Engine  platform.Engine
	Manager platform.ConnectionManager
	PHY     platform.PHY

	// Metrics is optional.
	Metrics *metrics.Metrics
	// Console receives the in-place storage progress line.
	Console io.Writer
}

type Agent struct {
	log        logging.Logger
	cfg        *config.Config
	providers  Providers
	supervisor *netconn.Supervisor
	dispatcher *dispatch.Dispatcher
	sequencer  *bringup.Sequencer

	// Set once by the steps, in order.
	endpoint *netconn.Endpoint
	stack    *transport.Stack
}

func New(log logging.Logger, cfg *config.Config, p Providers, opts ...bringup.Option) (*Agent, error) {
	if cfg == nil {
		return nil, errors.New("configuration must be provided")
	}
	a := &Agent{
		log:       log,
		cfg:       cfg,
		providers: p,
	}
	if err := a.checkProviders(); err != nil {
		return nil, errors.WithMessage(err, "misconfigured")
	}

	a.supervisor = netconn.NewSupervisor(log.WithField("worker", "netconn"), p.Manager,
		netconn.WithRetry(cfg.Link.MaxRetries, cfg.Link.Delay()),
		netconn.WithMetrics(p.Metrics))
	a.dispatcher = dispatch.New(log.WithField("worker", "dispatch"), p.Console, p.Metrics)
	a.sequencer = bringup.New(log.WithField("worker", "bringup"), p.Metrics, opts...)
	return a, nil
}

func (a *Agent) checkProviders() error {
	switch {
	case a.providers.Storage == nil:
		return errors.New("storage is nil")
	case a.providers.Engine == nil:
		return errors.New("update engine is nil")
	case a.providers.Manager == nil:
		return errors.New("connection manager is nil")
	}
	return nil
}

// Steps is the fixed bring-up order. Image validation is left out when the
// configuration skips it.
func (a *Agent) Steps() []bringup.Step {
	steps := []bringup.Step{{
		Name:    StepStorageInit,
		Action:  a.initStorage,
		Failure: "initializing ota storage failed",
	}}
	if !a.cfg.Agent.SkipImageValidate {
		steps = append(steps, bringup.Step{
			Name:    StepImageValidate,
			Action:  a.validateImage,
			Failure: "failed to validate the update",
		})
	}
	return append(steps,
		bringup.Step{
			Name:    StepNetworkConnect,
			Action:  a.connectNetwork,
			Failure: "failed to connect to network",
		},
		bringup.Step{
			Name:    StepTransportInit,
			Action:  a.initTransport,
			Failure: "initializing secure sockets failed",
		},
		bringup.Step{
			Name:    StepAgentStart,
			Action:  a.startAgent,
			Failure: "initializing and starting the ota agent failed",
		},
	)
}

// Run brings the device up and holds until ctx is done. A failed step ends
// the process.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Debug("starting")
	defer a.log.Debug("finished")
	if a.cfg.Agent.SkipImageValidate {
		a.log.Warn("running image will not be validated")
	}
	return a.sequencer.Run(ctx, a.Steps())
}

func (a *Agent) initStorage(context.Context) error {
	return a.providers.Storage.Init()
}

func (a *Agent) validateImage(context.Context) error {
	if info, err := a.providers.Storage.AppInfo(); err == nil {
		a.log.WithField("version", info.Version).Info("validating running image")
	}
	return a.providers.Storage.Validate(a.cfg.Agent.AppID)
}

func (a *Agent) connectNetwork(ctx context.Context) error {
	ep, err := a.supervisor.Connect(ctx, platform.InterfaceID(a.cfg.Interface()), a.providers.PHY)
	if err != nil {
		return err
	}
	a.endpoint = ep
	return nil
}

func (a *Agent) initTransport(context.Context) error {
	if a.endpoint == nil {
		return errors.New("network is not connected")
	}
	stack, err := transport.Init(a.endpoint.Addr, a.cfg)
	if err != nil {
		return err
	}
	a.stack = stack
	return nil
}

func (a *Agent) networkParams() platform.NetworkParams {
	return platform.NetworkParams{
		Server: lifecycle.Server{
			Host: a.cfg.Server.Host,
			Port: a.cfg.Server.Port,
		},
		File:        a.cfg.Server.File,
		Credentials: a.cfg.Credentials,
		UseJobFlow:  a.cfg.Server.UseJobFlow(),
		Connection:  a.cfg.Server.Connection,
		Transport:   a.stack,
	}
}

func (a *Agent) agentParams() platform.AgentParams {
	return platform.AgentParams{
		Callback:            a.dispatcher.Classify,
		RebootOnCompletion:  enabled(a.cfg.Agent.RebootOnCompletion),
		ValidateAfterReboot: enabled(a.cfg.Agent.ValidateAfterReboot),
		DoNotSendResult:     enabled(a.cfg.Agent.DoNotSendResult),
	}
}

// enabled resolves an agent flag, which is on unless configured off.
func enabled(b *bool) bool {
	return b == nil || *b
}

func (a *Agent) startAgent(ctx context.Context) error {
	session, err := a.providers.Engine.Start(ctx, a.networkParams(), a.agentParams(), a.providers.Storage)
	if err != nil {
		return err
	}
	go a.watch(session)
	return nil
}

// watch reports how the engine's session ended.
func (a *Agent) watch(session platform.Session) {
	err := session.Wait()
	log := a.log.WithField("last-error", session.LastError().String())
	if err != nil {
		log.WithError(err).Error("ota session ended")
		return
	}
	log.Info("ota session ended")
}
