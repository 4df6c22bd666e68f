package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/ruteri/helix-container/instanceutils"
	"github.com/ruteri/helix-container/interfaces"
	"github.com/ruteri/helix-container/p4"
	"github.com/ruteri/helix-container/process"
	"github.com/ruteri/helix-container/storage"
)

const (
	DefaultMonthlyRetention = 6
	DefaultLogMaxAge        = 7 * 24 * time.Hour

	latestDir      = "latest"
	monthlyDir     = "monthly"
	currentLink    = "current"
	checkpointsDir = "checkpoints"
	journalsDir    = "journals"
	depotsDir      = "depots"
	configDir      = "config"
	logsDir        = "logs"
)

// ErrStepsFailed is returned when one or more pipeline steps recorded an error.
var ErrStepsFailed = errors.New("backup steps failed")

// DefaultLogPatterns select server and script logs. The server log itself is named "log".
var DefaultLogPatterns = []string{"**/*.log", "**/log"}

// Config configures a backup Job.
type Config struct {
	Instance interfaces.Instance
	Client   *p4.Client
	Log      *slog.Logger

	// Destination is the backup root, e.g. /backup.
	Destination      string
	MonthlyRetention int
	// Aggressive mirrors depots with deletions and even from an empty source.
	Aggressive  bool
	LogMaxAge   time.Duration
	LogPatterns []string
	// ConfigFiles are copied into latest/config. Missing files are skipped.
	ConfigFiles []string

	// Offsite receives the selected checkpoint and the manifest when set.
	Offsite *storage.MultiStorageBackend

	Table process.ProcessTable
	Now   func() time.Time
}

// Result is the outcome of one run.
type Result struct {
	RunID           string
	Report          *interfaces.Report
	IntegrityErrors []string
	Checkpoint      string
	Snapshot        string
	Hardlinked      bool
	Pruned          []string
	Depots          MirrorStats
}

// Job runs the backup pipeline for one instance.
type Job struct {
	cfg Config
	log *slog.Logger
}

// DefaultConfigFiles are the instance files worth keeping alongside the data.
func DefaultConfigFiles(inst interfaces.Instance) []string {
	return []string{
		inst.VarsFile(),
		filepath.Join(inst.Root(), "server.id"),
		filepath.Join(inst.ConfigDir(), inst.ServerName()+".broker.cfg"),
	}
}

func NewJob(cfg Config) *Job {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.MonthlyRetention <= 0 {
		cfg.MonthlyRetention = DefaultMonthlyRetention
	}
	if cfg.LogMaxAge <= 0 {
		cfg.LogMaxAge = DefaultLogMaxAge
	}
	if len(cfg.LogPatterns) == 0 {
		cfg.LogPatterns = DefaultLogPatterns
	}
	if cfg.ConfigFiles == nil {
		cfg.ConfigFiles = DefaultConfigFiles(cfg.Instance)
	}
	if cfg.Table == nil {
		cfg.Table = process.OSProcessTable{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Job{cfg: cfg, log: cfg.Log}
}

func (j *Job) latest(parts ...string) string {
	return filepath.Join(append([]string{j.cfg.Destination, latestDir}, parts...)...)
}

// Run executes the pipeline. It returns ErrLockHeld without touching the backup set
// when another run is active, and ErrStepsFailed and/or ErrIntegrity otherwise when
// the run did not succeed. The Result is non-nil whenever the lock was acquired.
func (j *Job) Run(ctx context.Context) (*Result, error) {
	inst := j.cfg.Instance
	res := &Result{RunID: uuid.NewString()}
	log := j.log.With("run_id", res.RunID, "instance", inst.ID)

	lock, err := AcquireLock(LockPath(j.cfg.Destination, inst.ID), j.cfg.Table)
	if err != nil {
		log.Error("failed to acquire backup lock", "err", err)
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn("failed to release backup lock", "err", err)
		}
	}()

	start := j.cfg.Now()
	report := interfaces.NewReport("backup", log)
	res.Report = report
	log.Info("backup started", slog.String("destination", j.cfg.Destination))

	for _, dir := range []string{checkpointsDir, journalsDir, depotsDir, configDir, logsDir} {
		if err := os.MkdirAll(j.latest(dir), 0o750); err != nil {
			report.Errorf("failed to create %s: %v", j.latest(dir), err)
		}
	}

	if err := j.cfg.Client.LiveCheckpoint(ctx); err != nil {
		report.Errorf("live checkpoint failed: %v", err)
	}

	retained := j.copyCheckpoint(report, res)
	j.copyJournals(ctx, report)
	sourceDepotHasFiles := j.mirrorDepots(ctx, report, res)
	j.copyConfigAndLogs(ctx, report)
	j.writeManifest(ctx, report, res.RunID)
	j.snapshot(ctx, report, res)

	if err := RepointSymlink(latestDir, filepath.Join(j.cfg.Destination, currentLink)); err != nil {
		report.Errorf("failed to repoint %s link: %v", currentLink, err)
	}

	pruned, err := Retain(filepath.Join(j.cfg.Destination, monthlyDir), j.cfg.MonthlyRetention)
	if err != nil {
		report.Errorf("snapshot retention failed: %v", err)
	}
	res.Pruned = pruned
	if len(pruned) > 0 {
		log.Info("removed old monthly snapshots", "snapshots", pruned)
	}

	res.IntegrityErrors = CheckIntegrity(j.latest(), inst.ServerName(), sourceDepotHasFiles)
	for _, problem := range res.IntegrityErrors {
		log.Error("integrity check failed", slog.String("problem", problem))
	}

	if j.cfg.Offsite != nil {
		j.copyOffsite(ctx, report, res.RunID, retained)
	}

	report.Banner(log)
	log.Info("backup finished",
		slog.Duration("duration", j.cfg.Now().Sub(start)),
		slog.String("checkpoint", res.Checkpoint),
		slog.Int("integrity_errors", len(res.IntegrityErrors)))

	var errs []error
	if report.Failed() {
		errs = append(errs, fmt.Errorf("%w: %d error(s)", ErrStepsFailed, len(report.Errors)))
	}
	if len(res.IntegrityErrors) > 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrIntegrity, strings.Join(res.IntegrityErrors, "; ")))
	}
	return res, errors.Join(errs...)
}

// copyCheckpoint keeps exactly one checkpoint generation in latest/checkpoints and
// returns the retained paths.
func (j *Job) copyCheckpoint(report *interfaces.Report, res *Result) []string {
	name := j.cfg.Instance.ServerName()
	ckp, err := SelectCheckpoint(j.cfg.Instance.CheckpointDir(), name)
	if err != nil {
		report.Errorf("checkpoint selection failed: %v", err)
		return nil
	}
	res.Checkpoint = filepath.Base(ckp.Primary())

	keep := make(map[string]bool, len(ckp.Files))
	for _, f := range ckp.Files {
		keep[filepath.Base(f)] = true
	}

	dst := j.latest(checkpointsDir)
	entries, err := os.ReadDir(dst)
	if err != nil {
		report.Errorf("failed to list %s: %v", dst, err)
	}
	for _, e := range entries {
		if IsCheckpointFile(name, e.Name()) && !keep[e.Name()] {
			if err := os.Remove(filepath.Join(dst, e.Name())); err != nil {
				report.Errorf("failed to remove old checkpoint %s: %v", e.Name(), err)
			}
		}
	}

	var retained []string
	for _, f := range ckp.Files {
		target := filepath.Join(dst, filepath.Base(f))
		info, err := os.Stat(f)
		if err != nil {
			report.Errorf("failed to stat %s: %v", f, err)
			continue
		}
		if !upToDate(target, info) {
			if err := copyFile(f, target, info); err != nil {
				report.Errorf("failed to copy checkpoint %s: %v", filepath.Base(f), err)
				continue
			}
		}
		retained = append(retained, target)
	}

	j.log.Info("checkpoint retained",
		slog.String("generation", ckp.Generation),
		slog.Int("files", len(retained)))
	return retained
}

func (j *Job) copyJournals(ctx context.Context, report *interfaces.Report) {
	inst := j.cfg.Instance
	pattern := inst.ServerName() + ".jnl.*"

	stats, err := Mirror(ctx, inst.CheckpointDir(), j.latest(journalsDir), MirrorOptions{
		Delete: true,
		Include: func(rel string, _ fs.FileInfo) bool {
			ok, _ := doublestar.Match(pattern, path.Base(rel))
			return ok
		},
	})
	if err != nil {
		report.Errorf("journal mirror failed: %v", err)
	} else {
		j.log.Info("journals mirrored",
			slog.Int("copied", stats.Copied),
			slog.Int("skipped", stats.Skipped),
			slog.Int("deleted", stats.Deleted))
	}

	active := inst.ActiveJournal()
	if !instanceutils.Exists(active) {
		report.Warnf("active journal %s not found", active)
		return
	}
	if err := CopyFile(active, j.latest(journalsDir, filepath.Base(active))); err != nil {
		report.Errorf("failed to copy active journal: %v", err)
	}
}

// mirrorDepots reports whether the source depot tree holds any file.
func (j *Job) mirrorDepots(ctx context.Context, report *interfaces.Report, res *Result) bool {
	src := j.cfg.Instance.DepotDir()
	_, count, err := TreeSize(src)
	if err != nil {
		report.Errorf("failed to scan depots %s: %v", src, err)
		return false
	}

	if count == 0 && !j.cfg.Aggressive {
		report.Errorf("source depot directory %s is empty, depot mirror skipped", src)
		return false
	}
	if !instanceutils.Exists(src) {
		report.Errorf("depot directory %s does not exist", src)
		return false
	}

	stats, err := Mirror(ctx, src, j.latest(depotsDir), MirrorOptions{Delete: j.cfg.Aggressive})
	res.Depots = stats
	if err != nil {
		report.Errorf("depot mirror failed: %v", err)
		return count > 0
	}

	j.log.Info("depots mirrored",
		slog.Int("copied", stats.Copied),
		slog.Int("skipped", stats.Skipped),
		slog.Int("deleted", stats.Deleted),
		slog.Int64("bytes", stats.Bytes),
		slog.Bool("aggressive", j.cfg.Aggressive))
	if stats.Orphaned > 0 {
		j.log.Info("backup holds files no longer in the source depots", slog.Int("orphaned", stats.Orphaned))
	}
	return count > 0
}

func (j *Job) copyConfigAndLogs(ctx context.Context, report *interfaces.Report) {
	for _, f := range j.cfg.ConfigFiles {
		if !instanceutils.Exists(f) {
			j.log.Debug("config file not present", slog.String("path", f))
			continue
		}
		if err := CopyFile(f, j.latest(configDir, filepath.Base(f))); err != nil {
			report.Errorf("failed to copy %s: %v", f, err)
		}
	}

	src := j.cfg.Instance.LogDir()
	if !instanceutils.Exists(src) {
		report.Warnf("log directory %s not found", src)
		return
	}
	cutoff := j.cfg.Now().Add(-j.cfg.LogMaxAge)
	stats, err := Mirror(ctx, src, j.latest(logsDir), MirrorOptions{
		Include: func(rel string, info fs.FileInfo) bool {
			return info.ModTime().After(cutoff) && matchAny(j.cfg.LogPatterns, rel)
		},
	})
	if err != nil {
		report.Errorf("log copy failed: %v", err)
		return
	}
	j.log.Debug("logs copied", slog.Int("copied", stats.Copied), slog.Int("skipped", stats.Skipped))
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

func (j *Job) writeManifest(ctx context.Context, report *interfaces.Report, runID string) {
	inst := j.cfg.Instance
	m := Manifest{
		Updated:       j.cfg.Now().UTC(),
		RunID:         runID,
		Instance:      inst.ID,
		Root:          inst.Root(),
		Port:          inst.P4Port(),
		ServerVersion: "unknown",
	}

	if v, err := j.cfg.Client.ServerVersion(ctx); err != nil {
		report.Warnf("could not determine server version: %v", err)
	} else {
		m.ServerVersion = v.String()
	}

	var err error
	if m.Checkpoints, err = inventory(j.latest(checkpointsDir)); err != nil {
		report.Warnf("checkpoint inventory incomplete: %v", err)
	}
	if m.Journals, err = inventory(j.latest(journalsDir)); err != nil {
		report.Warnf("journal inventory incomplete: %v", err)
	}
	if m.Logs, err = inventory(j.latest(logsDir)); err != nil {
		report.Warnf("log inventory incomplete: %v", err)
	}
	if m.DepotBytes, m.DepotFiles, err = TreeSize(j.latest(depotsDir)); err != nil {
		report.Warnf("depot size incomplete: %v", err)
	}
	if m.TotalBytes, _, err = TreeSize(j.latest()); err != nil {
		report.Warnf("backup size incomplete: %v", err)
	}
	if m.Monthly, err = ListSnapshots(filepath.Join(j.cfg.Destination, monthlyDir)); err != nil {
		report.Warnf("failed to list monthly snapshots: %v", err)
	}

	if err := WriteYAML(j.latest(ManifestFile), m); err != nil {
		report.Errorf("failed to write manifest: %v", err)
	}
}

func (j *Job) snapshot(ctx context.Context, report *interfaces.Report, res *Result) {
	now := j.cfg.Now()
	month := now.Format("2006-01")
	dst := filepath.Join(j.cfg.Destination, monthlyDir, month)
	if instanceutils.Exists(dst) {
		return
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		report.Errorf("failed to create monthly directory: %v", err)
		return
	}
	hardlinked, err := Snapshot(ctx, j.latest(), dst)
	if err != nil {
		report.Errorf("monthly snapshot %s failed: %v", month, err)
		return
	}
	res.Snapshot = month
	res.Hardlinked = hardlinked

	info := SnapshotInfo{
		Created:    now.UTC(),
		Month:      month,
		Source:     j.latest(),
		Hardlinked: hardlinked,
	}
	if err := WriteYAML(filepath.Join(dst, SnapshotFile), info); err != nil {
		report.Errorf("failed to write snapshot manifest: %v", err)
	}
	j.log.Info("monthly snapshot created", slog.String("month", month), slog.Bool("hardlinked", hardlinked))
}

// copyOffsite uploads the retained checkpoint files and the manifest. Failures are warnings.
func (j *Job) copyOffsite(ctx context.Context, report *interfaces.Report, runID string, checkpoint []string) {
	record := OffsiteRecord{Updated: j.cfg.Now().UTC(), RunID: runID}

	upload := func(file string, kind interfaces.ArtifactKind) {
		f, err := os.Open(file)
		if err != nil {
			report.Warnf("offsite copy of %s skipped: %v", filepath.Base(file), err)
			return
		}
		defer f.Close()

		id, outcomes, err := j.cfg.Offsite.StoreEach(ctx, f, kind)
		entry := OffsiteEntry{File: filepath.Base(file), Kind: kind.String(), ContentID: id.String()}
		for _, o := range outcomes {
			switch {
			case o.Skipped:
				entry.Failed = append(entry.Failed, o.Location+": unavailable")
			case o.Err != nil:
				entry.Failed = append(entry.Failed, o.Location+": "+o.Err.Error())
			default:
				entry.Stored = append(entry.Stored, o.Location)
			}
		}
		if err != nil {
			report.Warnf("offsite copy of %s failed: %v", filepath.Base(file), err)
			entry.ContentID = ""
		}
		record.Entries = append(record.Entries, entry)
	}

	for _, f := range checkpoint {
		upload(f, interfaces.CheckpointArtifact)
	}
	upload(j.latest(ManifestFile), interfaces.ManifestArtifact)

	if err := WriteYAML(j.latest(OffsiteFile), record); err != nil {
		report.Warnf("failed to write %s: %v", OffsiteFile, err)
	}
}
