package main

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/amazonlinux/bottlerocket/otaboot/pkg/agent"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/config"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/logging"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/metrics"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/netconn"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/platform/updog"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/sigcontext"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/workgroup"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "otaboot",
		Usage: "bring the device up and run the OTA update agent",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   config.DefaultPath,
				EnvVars: []string{"OTABOOT_CONFIG"},
				Usage:   "path to the agent configuration",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "log at debug level",
			},
			&cli.BoolFlag{
				Name:  "skip-image-validate",
				Usage: "leave the running image unvalidated so the bootloader reverts it (rollback testing)",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "serve Prometheus metrics on this address",
			},
			&cli.StringFlag{
				Name:  "target",
				Usage: "board identity, overriding the configured target",
			},
		},
		Action: run,
	}

	logging.Set(logging.SplitOutput())
	if err := app.Run(os.Args); err != nil {
		logging.New("main").WithError(err).Fatal("agent stopped")
	}
}

func run(c *cli.Context) error {
	if c.Bool("debug") {
		logging.Set(logging.Level("debug"))
	}

	log := logging.New("main")

	// "debuggable" builds at runtime produce extensive logging output compared
	// to release builds with the debug flag enabled. This requires building and
	// using a distinct build in the deployment in order to use.
	if logging.Debuggable {
		log.Info("low-level logging.Debuggable is enabled in this build")
		log.Warn("logging.Debuggable produces large volumes of logs")
		delay := 3 * time.Second
		log.WithField("delay", delay).Warn("delaying start due to logging.Debuggable build")
		time.Sleep(delay)
		log.Info("starting logging.Debuggable enabled build")
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("target") {
		cfg.Target = c.String("target")
	}
	if c.Bool("skip-image-validate") {
		cfg.Agent.SkipImageValidate = true
	}

	ctx, cancel := sigcontext.WithSignalCancel(c.Context, log, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return runAgent(ctx, cfg, c.String("metrics-addr"))
}

func runAgent(ctx context.Context, cfg *config.Config, metricsAddr string) error {
	log := logging.New("agent")

	var m *metrics.Metrics
	if metricsAddr != "" {
		m = metrics.New()
	}

	plat := updog.New(cfg)
	a, err := agent.New(log, cfg, agent.Providers{
		Storage: plat.Storage,
		Engine:  plat.Engine,
		Manager: netconn.NewNetlinkManager(logging.New("netlink")),
		PHY:     netconn.NewNetlinkPHY(),
		Metrics: m,
		Console: os.Stdout,
	})
	if err != nil {
		return errors.WithMessage(err, "initialization error")
	}

	group := workgroup.WithContext(ctx)
	if m != nil {
		log.WithField("addr", metricsAddr).Info("serving metrics")
		group.Work(func(ctx context.Context) error {
			return m.Serve(ctx, metricsAddr)
		})
	}
	group.Work(a.Run)
	return errors.WithMessage(group.Wait(), "run error")
}
