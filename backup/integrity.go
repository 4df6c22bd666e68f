package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrIntegrity is returned when the backup set fails verification.
var ErrIntegrity = errors.New("backup integrity check failed")

// CheckIntegrity verifies the latest directory and returns every violation found.
func CheckIntegrity(latest, serverName string, sourceDepotHasFiles bool) []string {
	var problems []string

	for _, name := range []string{checkpointsDir, journalsDir, depotsDir, ManifestFile} {
		if _, err := os.Stat(filepath.Join(latest, name)); err != nil {
			problems = append(problems, fmt.Sprintf("missing %s", name))
		}
	}

	entries, _ := os.ReadDir(filepath.Join(latest, checkpointsDir))
	found := false
	for _, e := range entries {
		if e.Type().IsRegular() && IsCheckpointFile(serverName, e.Name()) {
			found = true
			break
		}
	}
	if !found {
		problems = append(problems, "no checkpoint file in backup")
	}

	if sourceDepotHasFiles {
		if _, n, err := TreeSize(filepath.Join(latest, depotsDir)); err != nil || n == 0 {
			problems = append(problems, "depot mirror is empty while source depots are not")
		}
	}

	return problems
}
