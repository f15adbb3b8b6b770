// Package executor runs the deployment pipeline end to end: dequeue,
// resolve, fetch, bootstrap, install, run, reconcile, grounded on
// deployment_handler.c's handle_deployment and its surrounding
// dequeue/report/release loop.
package executor

import (
	"context"
	"path/filepath"
	"time"

	"github.com/greengrass-lite/ggdeploymentd/internal/bootstrap"
	"github.com/greengrass-lite/ggdeploymentd/internal/cleanup"
	"github.com/greengrass-lite/ggdeploymentd/internal/configstore"
	"github.com/greengrass-lite/ggdeploymentd/internal/fetcher"
	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
	"github.com/greengrass-lite/ggdeploymentd/internal/metrics"
	"github.com/greengrass-lite/ggdeploymentd/internal/model"
	"github.com/greengrass-lite/ggdeploymentd/internal/queue"
	"github.com/greengrass-lite/ggdeploymentd/internal/recipestore"
	"github.com/greengrass-lite/ggdeploymentd/internal/resolver"
	"github.com/greengrass-lite/ggdeploymentd/pkg/auth"
	"github.com/greengrass-lite/ggdeploymentd/pkg/logging"
)

// installTimeout is the per-component cap on waiting for a terminal
// lifecycle state during the install and run/target phases.
const installTimeout = 300 * time.Second

// nucleusComponentName is the hardcoded root component whose requested
// version must equal the running nucleus version, preserved as the
// original hardcodes it.
const nucleusComponentName = "aws.greengrass.NucleusLite"

// RunningProbe reports whether a component's service unit is presently
// active, letting the staging phase skip a redundant fetch/redeploy when
// nothing changed: if unchanged and live, skip the artifact fetch.
// Implemented by internal/servicemanager.
type RunningProbe interface {
	IsRunning(ctx context.Context, componentName string) (bool, error)
}

// Config bundles an Executor's collaborators. Every field after Root
// through Cleanup is required; the rest may be left nil/zero to run with
// reduced functionality (e.g. no reporter for an offline local-only build),
// matching fetcher.New's "nil dataplane/ecr" tolerance for local
// deployments.
type Config struct {
	Root      string
	Queue     *queue.Queue
	Resolver  *resolver.Resolver
	Recipes   *recipestore.Store
	Store     configstore.Store
	Bootstrap *bootstrap.Manager
	Cleanup   *cleanup.Cleaner

	Credentials      CredentialsProvider
	DataplaneFetcher fetcher.DataplaneClient
	ECR              fetcher.ECRCredentialsProvider
	ThingGroups      ThingGroupsClient

	Units      UnitManager
	Health     HealthWaiter
	Running    RunningProbe
	Translator Translator
	Rebooter   Rebooter
	Reporter   JobsReporter

	Platform       model.PlatformAttributes
	NucleusVersion string
	TargetUnit     string

	Metrics *metrics.Recorder
	Logger  logging.Interface
}

// Executor is the single-threaded deployment pipeline driver: one
// executor goroutine runs the dequeue-handle-report loop.
type Executor struct {
	root      string
	queue     *queue.Queue
	resolver  *resolver.Resolver
	recipes   *recipestore.Store
	store     configstore.Store
	bootstrap *bootstrap.Manager
	cleanup   *cleanup.Cleaner

	credentials      CredentialsProvider
	dataplaneFetcher fetcher.DataplaneClient
	ecr              fetcher.ECRCredentialsProvider
	thingGroups      ThingGroupsClient

	units      UnitManager
	health     HealthWaiter
	running    RunningProbe
	translator Translator
	rebooter   Rebooter
	reporter   JobsReporter

	platform       model.PlatformAttributes
	nucleusVersion string
	targetUnit     string

	metrics *metrics.Recorder
	logger  logging.Interface
}

// New constructs an Executor from cfg.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	reporter := cfg.Reporter
	if reporter == nil {
		reporter = NopReporter{}
	}
	return &Executor{
		root:             cfg.Root,
		queue:            cfg.Queue,
		resolver:         cfg.Resolver,
		recipes:          cfg.Recipes,
		store:            cfg.Store,
		bootstrap:        cfg.Bootstrap,
		cleanup:          cfg.Cleanup,
		credentials:      cfg.Credentials,
		dataplaneFetcher: cfg.DataplaneFetcher,
		ecr:              cfg.ECR,
		thingGroups:      cfg.ThingGroups,
		units:            cfg.Units,
		health:           cfg.Health,
		running:          cfg.Running,
		translator:       cfg.Translator,
		rebooter:         cfg.Rebooter,
		reporter:         reporter,
		platform:         cfg.Platform,
		nucleusVersion:   cfg.NucleusVersion,
		targetUnit:       cfg.TargetUnit,
		metrics:          cfg.Metrics,
		logger:           logger,
	}
}

// Run drives the executor's main loop until ctx is canceled:
// first resuming any deployment left in progress by a prior bootstrap
// reboot or crash, then repeatedly dequeuing, handling, and releasing.
func (e *Executor) Run(ctx context.Context) error {
	if checkpoint, err := e.bootstrap.RetrieveInProgressDeployment(ctx); err == nil {
		e.logger.Infof("resuming in-progress deployment %s", checkpoint.Deployment.DeploymentID)
		if rerr := e.runOne(ctx, checkpoint.Deployment.Clone()); rerr != nil {
			e.logger.Errorf("resumed deployment %s failed: %v", checkpoint.Deployment.DeploymentID, rerr)
		}
	}

	next := make(chan *model.Deployment)
	go func() {
		for {
			d := e.queue.Dequeue()
			select {
			case next <- d:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-next:
			if err := e.runOne(ctx, d); err != nil {
				e.logger.Errorf("deployment %s failed: %v", d.DeploymentID, err)
			}
			e.queue.Release(d)
		}
	}
}

// runOne handles one deployment and reports its outcome. The persisted
// checkpoint is cleared unconditionally afterward, regardless of outcome.
func (e *Executor) runOne(ctx context.Context, d *model.Deployment) error {
	if err := e.reporter.ReportInProgress(ctx, d); err != nil {
		e.logger.Warnf("report IN_PROGRESS for %s: %v", d.DeploymentID, err)
	}

	start := time.Now()
	err := e.handleDeployment(ctx, d)
	e.metrics.ObserveDeployment(string(d.Type), err == nil, time.Since(start).Seconds())

	if err != nil {
		if rerr := e.reporter.ReportFailed(ctx, d); rerr != nil {
			e.logger.Warnf("report FAILED for %s: %v", d.DeploymentID, rerr)
		}
	} else if rerr := e.reporter.ReportSucceeded(ctx, d); rerr != nil {
		e.logger.Warnf("report SUCCEEDED for %s: %v", d.DeploymentID, rerr)
	}

	if perr := e.reporter.PublishFleetStatus(ctx); perr != nil {
		e.logger.Warnf("publish fleet status: %v", perr)
	}
	if cerr := e.bootstrap.Clear(ctx); cerr != nil {
		e.logger.Warnf("clear deployment checkpoint: %v", cerr)
	}

	return err
}

// handleDeployment runs the ordered deployment phases: stage local
// inputs, resolve dependencies, acquire credentials, fetch/stage each
// component, bootstrap, install, run, reload and wait, stale cleanup.
func (e *Executor) handleDeployment(ctx context.Context, d *model.Deployment) error {
	checkpoint, _ := e.bootstrap.RetrieveInProgressDeployment(ctx)
	if checkpoint != nil && checkpoint.Deployment.DeploymentID != d.DeploymentID {
		checkpoint = nil
	}

	if d.RecipeDirectoryPath != "" {
		if err := copyTree(d.RecipeDirectoryPath, filepath.Join(e.root, "packages", "recipes")); err != nil {
			return ggerr.Wrap(ggerr.Failure, "stage local recipes", err)
		}
	}
	if d.ArtifactsDirectoryPath != "" {
		if err := copyTree(d.ArtifactsDirectoryPath, filepath.Join(e.root, "packages", "artifacts")); err != nil {
			return ggerr.Wrap(ggerr.Failure, "stage local artifacts", err)
		}
	}

	resolved, err := e.resolveComponentSet(ctx, d)
	if err != nil {
		return err
	}

	var creds auth.Credentials
	if e.credentials != nil {
		creds, err = e.credentials.Credentials(ctx)
		if err != nil {
			if d.Type != model.Local {
				return ggerr.Wrap(ggerr.Failure, "acquire TES credentials", err)
			}
			e.logger.Warnf("continuing local deployment %s without TES credentials: %v", d.DeploymentID, err)
			creds = nil
		}
	}

	f := fetcher.New(e.root, creds, e.dataplaneFetcher, e.ecr, e.logger)

	toDeploy, err := e.stagePhase(ctx, d, resolved, f, checkpoint)
	if err != nil {
		return err
	}

	rebooted, err := e.bootstrapPhase(ctx, d, toDeploy, checkpoint)
	if err != nil {
		return err
	}
	if rebooted {
		return nil
	}

	if err := e.installPhase(ctx, toDeploy); err != nil {
		return err
	}
	if err := e.runPhase(ctx, toDeploy); err != nil {
		return err
	}
	if err := e.reloadAndWait(ctx, resolved); err != nil {
		return err
	}

	e.cleanup.Run(ctx, resolved.Versions())
	return nil
}
