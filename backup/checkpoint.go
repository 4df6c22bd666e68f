package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrNoCheckpoint is returned when no checkpoint file exists for the instance.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// Checkpoint is one checkpoint generation: p4_<ID>.ckp.<N> and its companions
// (.gz, .md5) found next to it.
type Checkpoint struct {
	Generation string
	Files      []string
}

// Primary returns the checkpoint file itself, preferring the uncompressed one.
func (c *Checkpoint) Primary() string {
	for _, f := range c.Files {
		if !strings.HasSuffix(f, ".md5") {
			return f
		}
	}
	return c.Files[0]
}

// SelectCheckpoint finds the newest checkpoint generation of server name (p4_<ID>) in dir.
// Generations compare numerically; when either side is not a number they compare lexically.
func SelectCheckpoint(dir, name string) (*Checkpoint, error) {
	prefix := name + ".ckp."
	matches, err := doublestar.Glob(os.DirFS(dir), prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints in %s: %w", dir, err)
	}

	byGen := make(map[string][]string)
	for _, m := range matches {
		gen, _, _ := strings.Cut(strings.TrimPrefix(m, prefix), ".")
		if gen == "" {
			continue
		}
		byGen[gen] = append(byGen[gen], filepath.Join(dir, m))
	}
	if len(byGen) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoCheckpoint, dir)
	}

	gens := make([]string, 0, len(byGen))
	for g := range byGen {
		gens = append(gens, g)
	}
	sort.Slice(gens, func(i, j int) bool { return generationLess(gens[i], gens[j]) })

	newest := gens[len(gens)-1]
	files := byGen[newest]
	sort.Strings(files)
	return &Checkpoint{Generation: newest, Files: files}, nil
}

func generationLess(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil && na != nb {
		return na < nb
	}
	return a < b
}

// IsCheckpointFile reports whether base is a checkpoint file of server name.
func IsCheckpointFile(name, base string) bool {
	ok, _ := doublestar.Match(name+".ckp.*", base)
	return ok
}
