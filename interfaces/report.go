package interfaces

import (
	"fmt"
	"log/slog"
	"strings"
)

// Report accumulates the recoverable errors and warnings of one component run.
// It is returned up to the caller instead of being kept in process-wide counters.
type Report struct {
	Component string
	Errors    []string
	Warnings  []string

	log *slog.Logger
}

// NewReport creates a report that also logs every entry as it is recorded.
// A nil logger disables logging.
func NewReport(component string, log *slog.Logger) *Report {
	return &Report{Component: component, log: log}
}

// Errorf records a step failure.
func (r *Report) Errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.Errors = append(r.Errors, msg)
	if r.log != nil {
		r.log.Error(msg, "component", r.Component)
	}
}

// Warnf records a non-fatal anomaly.
func (r *Report) Warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.Warnings = append(r.Warnings, msg)
	if r.log != nil {
		r.log.Warn(msg, "component", r.Component)
	}
}

// Failed reports whether any error was recorded.
func (r *Report) Failed() bool {
	return r != nil && len(r.Errors) > 0
}

// Merge appends other's entries, prefixed with its component name.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	for _, e := range other.Errors {
		r.Errors = append(r.Errors, other.Component+": "+e)
	}
	for _, w := range other.Warnings {
		r.Warnings = append(r.Warnings, other.Component+": "+w)
	}
}

// Summary renders a one-line outcome.
func (r *Report) Summary() string {
	status := "OK"
	if r.Failed() {
		status = "FAILED"
	}
	return fmt.Sprintf("%s %s: %d error(s), %d warning(s)", strings.ToUpper(r.Component), status, len(r.Errors), len(r.Warnings))
}

// Banner logs the end-of-run banner at the appropriate level.
func (r *Report) Banner(log *slog.Logger) {
	if r.Failed() {
		log.Error("==== "+r.Summary()+" ====", "errors", r.Errors)
		return
	}
	if len(r.Warnings) > 0 {
		log.Warn("==== "+r.Summary()+" ====", "warnings", r.Warnings)
		return
	}
	log.Info("==== " + r.Summary() + " ====")
}
