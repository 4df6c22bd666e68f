package main

import (
	"log"
	"os"
	"slices"

	"github.com/ruteri/helix-container/cmd/flags"
	"github.com/ruteri/helix-container/httpserver"
	"github.com/ruteri/helix-container/metrics"
	"github.com/ruteri/helix-container/orchestrator"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "helix-entrypoint",
		Usage: "Provision, run and gracefully stop a Helix Core server inside a container",
		Flags: slices.Concat(
			flags.InstanceFlags,
			flags.ServerFlags,
			flags.HTTPFlags,
			flags.LogFlags,
			[]cli.Flag{flags.LogServiceFlagFn("helix-entrypoint")},
		),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			inst, err := flags.InstanceFromCLI(cCtx)
			if err != nil {
				logger.Error("Invalid instance configuration", "err", err)
				return cli.Exit(err, 1)
			}

			// Components report through the metrics recorder, which exists only once the
			// status server has been created around the controller.
			var recorder *metrics.MetricsServer
			stack, err := flags.BuildStack(cCtx, logger, inst, flags.Hooks{
				OnRun:        func(mode string) { recorder.ProvisioningRun(mode) },
				OnEscalation: func(stage string) { recorder.StopEscalation(stage) },
			})
			if err != nil {
				logger.Error("Failed to set up components", "err", err)
				return cli.Exit(err, 1)
			}

			status, err := httpserver.New(flags.ConfigureServer(cCtx, logger), inst, stack.Controller)
			if err != nil {
				logger.Error("Failed to create status server", "err", err)
				return cli.Exit(err, 1)
			}
			recorder = status.Metrics()

			orch := orchestrator.New(orchestrator.Config{
				Instance:     inst,
				Provisioner:  stack.Provisioner,
				TLS:          stack.TLS,
				Server:       stack.Controller,
				Status:       status,
				Log:          logger,
				StopTimeout:  stack.StopTimeout,
				ReadyTimeout: stack.ReadyTimeout,
			})

			if err := orch.Run(cCtx.Context); err != nil {
				logger.Error("Entrypoint failed", "err", err)
				return cli.Exit(err, 1)
			}
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
