// Package daemon assembles every collaborator package into one running
// ggdeploymentd process: the daemon's single executor thread runs the
// dequeue-handle-report loop, with the Jobs listener, local IPC server,
// and executor wired against the shared queue. Grounded on
// main.c/entry.c's top-level startup sequence: load config, start the
// core bus server, start the Jobs listener, recover any in-progress
// deployment, then run the executor loop for the rest of the process's
// life.
package daemon

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/greengrass-lite/ggdeploymentd/internal/bootstrap"
	"github.com/greengrass-lite/ggdeploymentd/internal/cleanup"
	"github.com/greengrass-lite/ggdeploymentd/internal/componentstore"
	"github.com/greengrass-lite/ggdeploymentd/internal/configstore"
	"github.com/greengrass-lite/ggdeploymentd/internal/configstore/fsstore"
	"github.com/greengrass-lite/ggdeploymentd/internal/dataplane"
	"github.com/greengrass-lite/ggdeploymentd/internal/executor"
	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
	"github.com/greengrass-lite/ggdeploymentd/internal/ipcserver"
	"github.com/greengrass-lite/ggdeploymentd/internal/jobslistener"
	"github.com/greengrass-lite/ggdeploymentd/internal/metrics"
	"github.com/greengrass-lite/ggdeploymentd/internal/platform"
	"github.com/greengrass-lite/ggdeploymentd/internal/queue"
	"github.com/greengrass-lite/ggdeploymentd/internal/recipestore"
	"github.com/greengrass-lite/ggdeploymentd/internal/resolver"
	"github.com/greengrass-lite/ggdeploymentd/internal/servicemanager"
	"github.com/greengrass-lite/ggdeploymentd/internal/tes"
	"github.com/greengrass-lite/ggdeploymentd/internal/unittranslator"
	"github.com/greengrass-lite/ggdeploymentd/pkg/logging"
)

// Config bundles the device identity, cloud endpoints, and filesystem
// layout every collaborator needs (CLI/config surface, on-disk
// layout and config key layout).
type Config struct {
	Root             string // parent of the config file, packages/recipes, packages/artifacts, …
	IPCSocketPath    string
	TargetUnit string // "start a named target unit"
	NucleusVersion   string
	QueueCapacity    int
	UseSudoSystemctl bool

	// ThingNameOverride seeds system/thingName in the config store at
	// startup if non-empty, for local testing without a provisioned
	// identity. Production devices normally have this written by the
	// provisioning flow before ggdeploymentd ever runs.
	ThingNameOverride string

	MQTT      jobslistener.Config
	Dataplane dataplane.Config
	TES       TESConfig

	Logger logging.Interface
}

// TESConfig configures the Token Exchange Service HTTP client used to
// acquire TES credentials.
type TESConfig struct {
	Endpoint  string
	AuthToken string
	Region    string
}

// Daemon is the fully wired process: a deployment queue, a single executor
// consuming it, a Jobs listener and IPC server producing into it, and the
// configuration store all three share.
type Daemon struct {
	logger logging.Interface

	queue    *queue.Queue
	executor *executor.Executor
	listener *jobslistener.Client
	ipc      *ipcserver.Server

	registry *prometheus.Registry
}

// New wires every collaborator together but starts nothing. Initialization
// order matters: the config store comes first, since everything else
// reads from it.
func New(cfg Config) (*Daemon, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	store, err := fsstore.New(filepath.Join(cfg.Root, "config"), logger)
	if err != nil {
		return nil, ggerr.Wrap(ggerr.Failure, "open config store", err)
	}

	if cfg.ThingNameOverride != "" {
		if err := store.Put(context.Background(), "system/thingName", cfg.ThingNameOverride); err != nil {
			return nil, ggerr.Wrap(ggerr.Failure, "seed thing name override", err)
		}
	}

	attrs := platform.Resolve(context.Background(), store)

	recipes := recipestore.New(filepath.Join(cfg.Root, "packages", "recipes"))
	components := componentstore.New(recipes)

	dataplaneClient, err := dataplane.New(cfg.Dataplane, recipes, store, attrs, logger)
	if err != nil {
		return nil, ggerr.Wrap(ggerr.Failure, "build dataplane client", err)
	}

	res := resolver.New(components, recipes, dataplaneClient)

	tesClient := tes.NewClient(cfg.TES.Endpoint, cfg.TES.AuthToken, cfg.TES.Region, logger)

	units := servicemanager.New(cfg.Root, cfg.UseSudoSystemctl, logger)

	bm := bootstrap.New(store)

	q := queue.New(cfg.QueueCapacity)

	cleaner := cleanup.New(cfg.Root, recipes, store, units, logger)

	listener, err := jobslistener.New(cfg.MQTT, store, q, bm, logger)
	if err != nil {
		return nil, ggerr.Wrap(ggerr.Failure, "build jobs listener", err)
	}

	registry := prometheus.NewRegistry()
	recorder := metrics.New(registry)

	exec := executor.New(executor.Config{
		Root:      cfg.Root,
		Queue:     q,
		Resolver:  res,
		Recipes:   recipes,
		Store:     store,
		Bootstrap: bm,
		Cleanup:   cleaner,

		Credentials:      tesClient,
		DataplaneFetcher: dataplaneClient,
		ThingGroups:      dataplaneClient,

		Units:      units,
		Running:    units,
		Translator: &unittranslator.Translator{},
		Rebooter:   rebooter{},
		Reporter:   listener,

		Platform:       attrs,
		NucleusVersion: cfg.NucleusVersion,
		TargetUnit:     cfg.TargetUnit,

		Metrics: recorder,
		Logger:  logger,
	})

	ipc := &ipcserver.Server{
		SocketPath: cfg.IPCSocketPath,
		Enqueuer:   ipcserver.LocalQueue{Queue: q},
		Logger:     logger,
	}

	return &Daemon{
		logger:   logger,
		queue:    q,
		executor: exec,
		listener: listener,
		ipc:      ipc,
		registry: registry,
	}, nil
}

// MetricsHandler serves the daemon's Prometheus collectors, for the caller
// to mount at /metrics alongside its health-check server.
func (d *Daemon) MetricsHandler() http.Handler {
	return metrics.Handler(d.registry)
}

// rebooter requests a device reboot as a subprocess, grounded
// on bootstrap_manager.c's ggl_exec_command_async(["reboot"]).
type rebooter struct{}

func (rebooter) Reboot(ctx context.Context) error {
	return runReboot(ctx)
}

// Run starts the Jobs listener, the local IPC server, and the executor
// loop, blocking until ctx is canceled or one of them exits. The executor
// recovers any in-progress deployment left by a prior bootstrap reboot or
// crash itself, as its very first act, before dequeuing anything new
// (post-reboot continuation path).
func (d *Daemon) Run(ctx context.Context) error {
	errc := make(chan error, 3)
	go func() { errc <- d.listener.Start(ctx) }()
	go func() { errc <- d.ipc.Serve(ctx) }()
	go func() { errc <- d.executor.Run(ctx) }()

	err := <-errc
	d.listener.Close()
	_ = d.ipc.Close()
	if err != nil && ctx.Err() == nil {
		d.logger.Errorf("daemon component exited: %v", err)
	}
	return err
}
