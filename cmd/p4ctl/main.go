package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/ruteri/helix-container/cmd/flags"
	"github.com/ruteri/helix-container/cryptoutils"
	"github.com/ruteri/helix-container/instanceutils/tlsprov"
	"github.com/ruteri/helix-container/process"
	"github.com/urfave/cli/v2"
)

const exitNotRunning = 3

var flagProbeTimeout = &cli.DurationFlag{
	Name:  "probe-timeout",
	Value: 5 * time.Second,
	Usage: "how long the healthcheck waits for the server port",
}

func setup(cCtx *cli.Context) (*slog.Logger, *flags.Stack, error) {
	logger := flags.SetupLogger(cCtx)
	inst, err := flags.InstanceFromCLI(cCtx)
	if err != nil {
		logger.Error("Invalid instance configuration", "err", err)
		return nil, nil, cli.Exit(err, 1)
	}
	stack, err := flags.BuildStack(cCtx, logger, inst, flags.Hooks{})
	if err != nil {
		logger.Error("Failed to set up components", "err", err)
		return nil, nil, cli.Exit(err, 1)
	}
	return logger, stack, nil
}

func action(fn func(cCtx *cli.Context, logger *slog.Logger, stack *flags.Stack) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		logger, stack, err := setup(cCtx)
		if err != nil {
			return err
		}
		return fn(cCtx, logger, stack)
	}
}

func main() {
	app := &cli.App{
		Name:  "p4ctl",
		Usage: "Operate the Helix Core server of this container",
		Flags: slices.Concat(
			flags.InstanceFlags,
			flags.ServerFlags,
			flags.LogFlags,
			[]cli.Flag{flags.LogServiceFlagFn("p4ctl")},
		),
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "print the server state; exits 3 when it is not running",
				Action: action(func(cCtx *cli.Context, logger *slog.Logger, stack *flags.Stack) error {
					state, err := stack.Controller.Status(cCtx.Context)
					if err != nil {
						logger.Error("Status check failed", "err", err)
						return cli.Exit(err, 1)
					}
					fmt.Println(state.String())
					if state != process.StateRunning {
						return cli.Exit("", exitNotRunning)
					}
					return nil
				}),
			},
			{
				Name:  "start",
				Usage: "start the server and wait until it accepts connections",
				Action: action(func(cCtx *cli.Context, logger *slog.Logger, stack *flags.Stack) error {
					if err := stack.Controller.Start(cCtx.Context); err != nil {
						logger.Error("Start failed", "err", err)
						return cli.Exit(err, 1)
					}
					if err := stack.Controller.WaitReady(cCtx.Context, stack.ReadyTimeout); err != nil {
						logger.Error("Server not ready", "err", err)
						return cli.Exit(err, 1)
					}
					return nil
				}),
			},
			{
				Name:  "stop",
				Usage: "stop the server, escalating to SIGKILL when needed",
				Action: action(func(cCtx *cli.Context, logger *slog.Logger, stack *flags.Stack) error {
					if err := stack.Controller.Stop(cCtx.Context, stack.StopTimeout); err != nil {
						logger.Error("Stop failed", "err", err)
						return cli.Exit(err, 1)
					}
					return nil
				}),
			},
			{
				Name:  "fingerprint",
				Usage: "print the SHA-256 fingerprint of the server certificate",
				Action: action(func(cCtx *cli.Context, logger *slog.Logger, stack *flags.Stack) error {
					certPEM, err := os.ReadFile(filepath.Join(stack.Instance.SSLDir(), tlsprov.CertFile))
					if err != nil {
						logger.Error("Could not read certificate", "err", err)
						return cli.Exit(err, 1)
					}
					fp, err := cryptoutils.FingerprintPEM(certPEM)
					if err != nil {
						logger.Error("Could not parse certificate", "err", err)
						return cli.Exit(err, 1)
					}
					fmt.Println(fp)
					return nil
				}),
			},
			{
				Name:  "provision",
				Usage: "run first-run setup or reconciliation without serving",
				Action: action(func(cCtx *cli.Context, logger *slog.Logger, stack *flags.Stack) error {
					report, err := stack.Provisioner.Run(cCtx.Context)
					if err != nil {
						logger.Error("Provisioning failed", "err", err)
						return cli.Exit(err, 1)
					}
					if report.Failed() {
						return cli.Exit(report.Summary(), 1)
					}
					return nil
				}),
			},
			{
				Name:  "healthcheck",
				Usage: "exit 0 when the server is running and accepting connections",
				Flags: []cli.Flag{flagProbeTimeout},
				Action: action(func(cCtx *cli.Context, logger *slog.Logger, stack *flags.Stack) error {
					if err := healthcheck(cCtx.Context, stack, cCtx.Duration(flagProbeTimeout.Name)); err != nil {
						logger.Warn("Healthcheck failed", "err", err)
						return cli.Exit(err, 1)
					}
					return nil
				}),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func healthcheck(ctx context.Context, stack *flags.Stack, timeout time.Duration) error {
	state, err := stack.Controller.Status(ctx)
	if err != nil {
		return err
	}
	if state != process.StateRunning {
		return errors.New("server is " + state.String())
	}
	return stack.Controller.WaitReady(ctx, timeout)
}
