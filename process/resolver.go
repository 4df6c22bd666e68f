package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
)

// tcpListen is the kernel's TCP_LISTEN state as printed in /proc/net/tcp.
const tcpListen = 0x0A

// Resolver discovers the PIDs of the server process.
type Resolver interface {
	Resolve(ctx context.Context) ([]int, error)
	Name() string
}

// ChainResolver returns the result of the first resolver that finds anything.
type ChainResolver struct {
	resolvers []Resolver
	log       *slog.Logger
}

// Chain builds a ChainResolver. Resolver errors count as "nothing found".
func Chain(log *slog.Logger, resolvers ...Resolver) *ChainResolver {
	return &ChainResolver{resolvers: resolvers, log: log}
}

func (c *ChainResolver) Name() string { return "chain" }

func (c *ChainResolver) Resolve(ctx context.Context) ([]int, error) {
	for _, r := range c.resolvers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pids, err := r.Resolve(ctx)
		if err != nil {
			c.log.Debug("pid resolver failed", "resolver", r.Name(), "err", err)
			continue
		}
		if len(pids) > 0 {
			c.log.Debug("resolved server pids", "resolver", r.Name(), "pids", pids)
			return pids, nil
		}
	}
	return nil, nil
}

// PIDFileResolver reads the pid the server wrote into its root.
type PIDFileResolver struct {
	Path string
}

func (r PIDFileResolver) Name() string { return "pidfile" }

func (r PIDFileResolver) Resolve(_ context.Context) ([]int, error) {
	pid, err := ReadPIDFile(r.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []int{pid}, nil
}

// ErrInvalidPID is returned for pid files holding anything but a positive integer.
var ErrInvalidPID = errors.New("invalid pid in file")

// ReadPIDFile parses a pid file.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPID, s)
	}
	return pid, nil
}

// PatternResolver matches process command lines under a procfs mount.
type PatternResolver struct {
	ProcMount string
	Pattern   *regexp.Regexp
	// Self is excluded from the result so the orchestrator never matches itself.
	Self int
}

// ServerPattern matches the p4d process of one instance, e.g. "p4d_1 -r /p4/1/root ...".
func ServerPattern(id string) *regexp.Regexp {
	return regexp.MustCompile(`(^|/)p4d_` + regexp.QuoteMeta(id) + `(\s|$)`)
}

func (r PatternResolver) Name() string { return "pattern" }

func (r PatternResolver) Resolve(_ context.Context) ([]int, error) {
	fs, err := procfs.NewFS(r.ProcMount)
	if err != nil {
		return nil, err
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return nil, err
	}

	var pids []int
	for _, p := range procs {
		if p.PID == r.Self {
			continue
		}
		args, err := p.CmdLine()
		if err != nil || len(args) == 0 {
			continue
		}
		if r.Pattern.MatchString(strings.Join(args, " ")) {
			pids = append(pids, p.PID)
		}
	}
	sort.Ints(pids)
	return pids, nil
}

// PortOwnerResolver finds processes holding a LISTEN socket on Port.
type PortOwnerResolver struct {
	ProcMount string
	Port      int
}

func (r PortOwnerResolver) Name() string { return "port-owner" }

func (r PortOwnerResolver) Resolve(_ context.Context) ([]int, error) {
	fs, err := procfs.NewFS(r.ProcMount)
	if err != nil {
		return nil, err
	}

	inodes, err := r.listenInodes(fs)
	if err != nil {
		return nil, err
	}
	if len(inodes) == 0 {
		return nil, nil
	}

	procs, err := fs.AllProcs()
	if err != nil {
		return nil, err
	}

	var pids []int
	for _, p := range procs {
		targets, err := p.FileDescriptorTargets()
		if err != nil {
			continue
		}
		for _, target := range targets {
			if _, ok := inodes[target]; ok {
				pids = append(pids, p.PID)
				break
			}
		}
	}
	sort.Ints(pids)
	return pids, nil
}

// listenInodes returns fd link targets ("socket:[inode]") of sockets listening on the port.
func (r PortOwnerResolver) listenInodes(fs procfs.FS) (map[string]struct{}, error) {
	inodes := map[string]struct{}{}
	found := false

	for _, read := range []func() (procfs.NetTCP, error){fs.NetTCP, fs.NetTCP6} {
		lines, err := read()
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found = true
		for _, line := range lines {
			if line.St == tcpListen && line.LocalPort == uint64(r.Port) {
				inodes[fmt.Sprintf("socket:[%d]", line.Inode)] = struct{}{}
			}
		}
	}
	if !found {
		return nil, fmt.Errorf("no tcp tables under %s", r.ProcMount)
	}
	return inodes, nil
}
