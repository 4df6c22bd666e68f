package interfaces

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReport(t *testing.T) {
	r := NewReport("backup", nil)
	assert.False(t, r.Failed())

	r.Warnf("log sync skipped %d files", 2)
	assert.False(t, r.Failed())
	assert.Equal(t, "BACKUP OK: 0 error(s), 1 warning(s)", r.Summary())

	child := NewReport("mirror", nil)
	child.Errorf("depot source empty")
	r.Merge(child)

	assert.True(t, r.Failed())
	assert.Equal(t, []string{"mirror: depot source empty"}, r.Errors)
	assert.Equal(t, "BACKUP FAILED: 1 error(s), 1 warning(s)", r.Summary())
}

func TestResult_Err(t *testing.T) {
	ok := &Result{Command: "p4 info"}
	assert.NoError(t, ok.Err())

	failed := &Result{Command: "p4 info", ExitCode: 1, Stderr: "Connect to server failed\n"}
	err := failed.Err()
	var exitErr *ExitError
	assert.ErrorAs(t, err, &exitErr)
	assert.Contains(t, err.Error(), "Connect to server failed")
}
