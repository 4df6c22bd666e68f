package main

import (
	"errors"
	"log"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/ruteri/helix-container/backup"
	"github.com/ruteri/helix-container/cmd/flags"
	"github.com/ruteri/helix-container/command"
	"github.com/ruteri/helix-container/instanceutils"
	"github.com/ruteri/helix-container/interfaces"
	"github.com/ruteri/helix-container/p4"
	"github.com/ruteri/helix-container/storage"
	"github.com/urfave/cli/v2"
)

const (
	exitStepsFailed = 1
	exitIntegrity   = 2
	exitLockHeld    = 3
)

var backupFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "destination",
		Value:   "/backup",
		Usage:   "backup root holding latest/, monthly/ and the current symlink",
		EnvVars: []string{"BACKUP_DESTINATION"},
	},
	&cli.IntFlag{
		Name:    "monthly-retention",
		Value:   backup.DefaultMonthlyRetention,
		Usage:   "number of monthly snapshots to keep",
		EnvVars: []string{"BACKUP_MONTHLY_RETENTION"},
	},
	&cli.BoolFlag{
		Name:    "aggressive",
		Value:   false,
		Usage:   "mirror depots with deletions, even from an empty source",
		EnvVars: []string{"BACKUP_AGGRESSIVE"},
	},
	&cli.DurationFlag{
		Name:    "log-max-age",
		Value:   backup.DefaultLogMaxAge,
		Usage:   "copy server logs modified within this window",
		EnvVars: []string{"BACKUP_LOG_MAX_AGE"},
	},
	&cli.StringSliceFlag{
		Name:    "offsite",
		Usage:   "offsite copy locations: file:///path, s3://bucket/prefix?region=..., ipfs://host:port/root",
		EnvVars: []string{"BACKUP_OFFSITE"},
	},
}

func main() {
	app := &cli.App{
		Name:  "helix-backup",
		Usage: "Checkpoint a Helix Core instance and mirror it to the backup volume",
		Flags: slices.Concat(
			flags.InstanceFlags,
			backupFlags,
			flags.LogFlags,
			[]cli.Flag{flags.LogServiceFlagFn("helix-backup")},
		),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			inst, err := flags.InstanceFromCLI(cCtx)
			if err != nil {
				logger.Error("Invalid instance configuration", "err", err)
				return cli.Exit(err, exitStepsFailed)
			}

			runner := command.NewExecRunner(logger)
			client := p4.NewClient(runner, inst, logger)
			client.Home = instanceutils.HomeDir(inst.ServiceUser)

			cfg := backup.Config{
				Instance:         inst,
				Client:           client,
				Log:              logger,
				Destination:      cCtx.String("destination"),
				MonthlyRetention: cCtx.Int("monthly-retention"),
				Aggressive:       cCtx.Bool("aggressive"),
				LogMaxAge:        cCtx.Duration("log-max-age"),
			}

			if uris := cCtx.StringSlice("offsite"); len(uris) > 0 {
				locations := make([]interfaces.StorageBackendLocation, 0, len(uris))
				for _, uri := range uris {
					locations = append(locations, interfaces.StorageBackendLocation(uri))
				}
				offsite, err := storage.NewStorageBackendFactory(logger).CreateMultiBackend(locations)
				if err != nil {
					logger.Error("Failed to configure offsite storage", "err", err)
					return cli.Exit(err, exitStepsFailed)
				}
				cfg.Offsite = offsite
			}

			// Cancel the run on SIGINT/SIGTERM so the deferred lock release still happens.
			ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			_, err = backup.NewJob(cfg).Run(ctx)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, backup.ErrLockHeld):
				logger.Warn("Another backup is running", "err", err)
				return cli.Exit(err, exitLockHeld)
			case errors.Is(err, backup.ErrIntegrity):
				logger.Error("Backup integrity check failed", "err", err)
				return cli.Exit(err, exitIntegrity)
			default:
				logger.Error("Backup failed", "err", err)
				return cli.Exit(err, exitStepsFailed)
			}
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
