// Package flags holds the command line surface shared by the helix binaries.
package flags

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/helix-container/command"
	"github.com/ruteri/helix-container/common"
	"github.com/ruteri/helix-container/httpserver"
	"github.com/ruteri/helix-container/instanceutils"
	"github.com/ruteri/helix-container/instanceutils/provision"
	"github.com/ruteri/helix-container/instanceutils/secrets"
	"github.com/ruteri/helix-container/instanceutils/tlsprov"
	"github.com/ruteri/helix-container/interfaces"
	"github.com/ruteri/helix-container/p4"
	"github.com/ruteri/helix-container/process"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(StatusAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		GracefulShutdownDuration: 5 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

// InstanceFromCLI builds and validates the instance. Without an explicit --ssl, an
// instance whose vars file already exports an SSL port keeps serving SSL.
func InstanceFromCLI(cCtx *cli.Context) (interfaces.Instance, error) {
	inst := interfaces.DefaultInstance()
	inst.ID = cCtx.String(InstanceFlag.Name)
	inst.SDPRoot = cCtx.String(SDPRootFlag.Name)
	inst.Port = cCtx.Int(PortFlag.Name)
	inst.SSL = cCtx.Bool(SSLFlag.Name)
	inst.SSLPrefix = cCtx.String(SSLPrefixFlag.Name)
	inst.SecurityLevel = cCtx.Int(SecurityLevelFlag.Name)
	inst.Unicode = cCtx.Bool(UnicodeFlag.Name)
	inst.MasterHost = cCtx.String(MasterHostFlag.Name)
	inst.Domain = cCtx.String(DomainFlag.Name)
	inst.Description = cCtx.String(DescriptionFlag.Name)
	inst.ServiceUser = cCtx.String(ServiceUserFlag.Name)
	inst.P4User = cCtx.String(SuperUserFlag.Name)

	if !cCtx.IsSet(SSLFlag.Name) && provision.SSLConfigured(inst) {
		inst.SSL = true
	}

	if err := inst.Validate(); err != nil {
		return interfaces.Instance{}, err
	}
	return inst, nil
}

// Hooks receive component events, typically to feed metrics.
type Hooks struct {
	OnRun        func(mode string)
	OnEscalation func(stage string)
}

// Stack is the wired set of components for one instance.
type Stack struct {
	Instance    interfaces.Instance
	Runner      interfaces.Runner
	Client      *p4.Client
	Owner       *instanceutils.Owner
	Controller  *process.Controller
	Secrets     *secrets.Resolver
	TLS         *tlsprov.Provisioner
	Provisioner *provision.Provisioner

	StopTimeout  time.Duration
	ReadyTimeout time.Duration
}

// BuildStack wires the components for inst from the command line.
func BuildStack(cCtx *cli.Context, log *slog.Logger, inst interfaces.Instance, hooks Hooks) (*Stack, error) {
	owner, err := instanceutils.LookupOwner(inst.ServiceUser)
	if err != nil {
		log.Debug("service account not found, ownership changes disabled", "user", inst.ServiceUser, "err", err)
		owner = nil
	}
	home := instanceutils.HomeDir(inst.ServiceUser)

	runner := command.NewExecRunner(log)
	client := p4.NewClient(runner, inst, log)
	client.Home = home

	stopTimeout := cCtx.Duration(StopTimeoutFlag.Name)
	readyTimeout := cCtx.Duration(ReadyTimeoutFlag.Name)

	controller := process.NewController(process.ControllerConfig{
		Instance:     inst,
		Runner:       runner,
		Log:          log,
		OnEscalation: hooks.OnEscalation,
	})

	store, err := secrets.NewStore(cCtx.String(SecretStoreFlag.Name), inst, owner, log)
	if err != nil {
		return nil, fmt.Errorf("secret store: %w", err)
	}
	resolver := &secrets.Resolver{
		Explicit: cCtx.String(PasswordFlag.Name),
		Store:    store,
		Log:      log,
	}

	var generator tlsprov.Generator
	switch gen := cCtx.String(TLSGeneratorFlag.Name); gen {
	case "p4d":
		generator = tlsprov.P4dGenerator{Client: client}
	case "builtin":
		generator = tlsprov.BuiltinGenerator{}
	default:
		return nil, fmt.Errorf("unknown tls generator %q", gen)
	}
	tls := tlsprov.New(tlsprov.Config{
		Instance:    inst,
		Generator:   generator,
		Log:         log,
		Server:      controller,
		StopTimeout: stopTimeout,
		Owner:       owner,
	})

	provisioner := provision.New(provision.Config{
		Instance:     inst,
		Runner:       runner,
		Client:       client,
		Server:       controller,
		TLS:          tls,
		Secrets:      resolver,
		Log:          log,
		Owner:        owner,
		Home:         home,
		StopTimeout:  stopTimeout,
		ReadyTimeout: readyTimeout,
		OnRun:        hooks.OnRun,
	})

	return &Stack{
		Instance:     inst,
		Runner:       runner,
		Client:       client,
		Owner:        owner,
		Controller:   controller,
		Secrets:      resolver,
		TLS:          tls,
		Provisioner:  provisioner,
		StopTimeout:  stopTimeout,
		ReadyTimeout: readyTimeout,
	}, nil
}

var InstanceFlag = &cli.StringFlag{
	Name:    "instance",
	Value:   "1",
	Usage:   "SDP instance identifier",
	EnvVars: []string{"P4_INSTANCE"},
}
var SDPRootFlag = &cli.StringFlag{
	Name:    "sdp-root",
	Value:   "/p4",
	Usage:   "mount point of the SDP tree",
	EnvVars: []string{"P4_SDP_ROOT"},
}
var PortFlag = &cli.IntFlag{
	Name:    "port",
	Value:   1666,
	Usage:   "TCP port the server listens on",
	EnvVars: []string{"P4_PORT"},
}
var SSLFlag = &cli.BoolFlag{
	Name:    "ssl",
	Value:   false,
	Usage:   "serve SSL; defaults to what an existing instance already uses",
	EnvVars: []string{"P4_SSL"},
}
var SSLPrefixFlag = &cli.StringFlag{
	Name:    "ssl-prefix",
	Value:   "ssl:",
	Usage:   "P4PORT protocol prefix used when SSL is enabled",
	EnvVars: []string{"P4_SSL_PREFIX"},
}
var SecurityLevelFlag = &cli.IntFlag{
	Name:    "security-level",
	Value:   interfaces.StrictestSecurityLevel,
	Usage:   "value of the security configurable",
	EnvVars: []string{"P4_SECURITY"},
}
var UnicodeFlag = &cli.BoolFlag{
	Name:    "unicode",
	Value:   false,
	Usage:   "enable unicode mode on first run",
	EnvVars: []string{"P4_UNICODE"},
}
var MasterHostFlag = &cli.StringFlag{
	Name:    "master-host",
	Value:   "localhost",
	Usage:   "host name of the commit server",
	EnvVars: []string{"P4_MASTER_HOST"},
}
var DomainFlag = &cli.StringFlag{
	Name:    "domain",
	Usage:   "DNS domain of the server host",
	EnvVars: []string{"P4_DOMAIN"},
}
var DescriptionFlag = &cli.StringFlag{
	Name:    "description",
	Value:   "Helix Core server",
	Usage:   "server description",
	EnvVars: []string{"P4_DESCRIPTION"},
}
var ServiceUserFlag = &cli.StringFlag{
	Name:    "service-user",
	Value:   "perforce",
	Usage:   "OS account owning the instance files",
	EnvVars: []string{"P4_SERVICE_USER"},
}
var SuperUserFlag = &cli.StringFlag{
	Name:    "super-user",
	Value:   "perforce",
	Usage:   "server super user for administration",
	EnvVars: []string{"P4_SUPER_USER"},
}

var InstanceFlags = []cli.Flag{
	InstanceFlag,
	SDPRootFlag,
	PortFlag,
	SSLFlag,
	SSLPrefixFlag,
	SecurityLevelFlag,
	UnicodeFlag,
	MasterHostFlag,
	DomainFlag,
	DescriptionFlag,
	ServiceUserFlag,
	SuperUserFlag,
}

var PasswordFlag = &cli.StringFlag{
	Name:    "passwd",
	Usage:   "super user password; generated and stored when empty",
	EnvVars: []string{"P4_PASSWD"},
}
var SecretStoreFlag = &cli.StringFlag{
	Name:    "secret-store",
	Value:   "file",
	Usage:   "where the super user password is kept: 'file', 'file:///path' or 'vault://host:port/mount/path'",
	EnvVars: []string{"P4_SECRET_STORE"},
}
var TLSGeneratorFlag = &cli.StringFlag{
	Name:    "tls-generator",
	Value:   "p4d",
	Usage:   "how missing TLS material is created: 'p4d' or 'builtin'",
	EnvVars: []string{"P4_TLS_GENERATOR"},
}
var StopTimeoutFlag = &cli.DurationFlag{
	Name:    "stop-timeout",
	Value:   process.DefaultStopTimeout,
	Usage:   "graceful stop budget before SIGKILL",
	EnvVars: []string{"P4D_STOP_TIMEOUT"},
}
var ReadyTimeoutFlag = &cli.DurationFlag{
	Name:    "ready-timeout",
	Value:   provision.DefaultReadyTimeout,
	Usage:   "how long to wait for the server port to accept connections",
	EnvVars: []string{"P4D_READY_TIMEOUT"},
}

var ServerFlags = []cli.Flag{
	PasswordFlag,
	SecretStoreFlag,
	TLSGeneratorFlag,
	StopTimeoutFlag,
	ReadyTimeoutFlag,
}

var LogJsonFlag = &cli.BoolFlag{
	Name:    "log-json",
	Value:   false,
	Usage:   "log in JSON format",
	EnvVars: []string{"LOG_JSON"},
}
var LogDebugFlag = &cli.BoolFlag{
	Name:    "log-debug",
	Value:   false,
	Usage:   "log debug messages",
	EnvVars: []string{"LOG_DEBUG"},
}
var LogUidFlag = &cli.BoolFlag{
	Name:    "log-uid",
	Value:   false,
	Usage:   "generate a uuid and add to all log messages",
	EnvVars: []string{"LOG_UID"},
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "log-service",
		Value:   service,
		Usage:   "add 'service' tag to logs",
		EnvVars: []string{"LOG_SERVICE"},
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var StatusAddrFlag = &cli.StringFlag{
	Name:    "status-addr",
	Usage:   "address to listen on for the status API; empty disables it",
	EnvVars: []string{"STATUS_ADDR"},
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:    "metrics-addr",
	Value:   "127.0.0.1:8090",
	Usage:   "address to listen on for Prometheus metrics; empty disables it",
	EnvVars: []string{"METRICS_ADDR"},
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}

var HTTPFlags = []cli.Flag{
	PprofFlag,
	StatusAddrFlag,
	MetricsAddrFlag,
}
