// Package cleanup removes on-disk artifacts, recipes, configuration, and
// service units for component versions absent from the currently resolved
// set, grounded on stale_component.c's
// cleanup_stale_versions/delete_component/delete_component_artifact/
// delete_component_recipe/disable_and_unlink_service.
package cleanup

import (
	"context"
	"os"
	"path/filepath"

	"github.com/greengrass-lite/ggdeploymentd/internal/configstore"
	"github.com/greengrass-lite/ggdeploymentd/internal/recipestore"
	"github.com/greengrass-lite/ggdeploymentd/pkg/logging"
)

// ServiceManager is the seam cleanup needs into the service-manager wrapper
// to tear down a component that is no longer present in the resolved set
// at all. Implemented by internal/servicemanager.
type ServiceManager interface {
	// StopDisableUnlinkAll stops, disables, and unlinks componentName's
	// run, install, and bootstrap units, tolerating units that were never
	// started or never existed, then deletes the associated unit and
	// script files from disk: "<prefix>.<name>.service",
	// "...install.service", "...bootstrap.service",
	// "...script.install.json", "...script.run".
	StopDisableUnlinkAll(ctx context.Context, componentName string) error
}

// Cleaner implements the stale-cleanup pass, run once a deployment
// finishes successfully.
type Cleaner struct {
	root    string
	recipes *recipestore.Store
	store   configstore.Store
	units   ServiceManager
	logger  logging.Interface
}

// New constructs a Cleaner. root is the daemon's root directory (the parent
// of packages/recipes, packages/artifacts, packages/artifacts-unarchived).
func New(root string, recipes *recipestore.Store, store configstore.Store, units ServiceManager, logger logging.Interface) *Cleaner {
	return &Cleaner{root: root, recipes: recipes, store: store, units: units, logger: logger}
}

// Run enumerates every on-disk (name, version) recipe pair and compares it
// against latest, the name->version map of the deployment's final resolved
// set. A pair that matches latest exactly is kept; a
// name present in latest at a different version has only that stale
// version's artifacts and recipe removed; a name entirely absent from
// latest has every version of its artifacts and recipes removed, its
// services.<name> config subtree deleted, and its service units stopped,
// disabled, unlinked, and their files removed.
//
// Deletion failures are logged but never returned: stale cleanup never
// fails the deployment it follows.
func (c *Cleaner) Run(ctx context.Context, latest map[string]string) {
	entries, err := c.recipes.List()
	if err != nil {
		c.logger.Warnf("list recipes for stale cleanup: %v", err)
		return
	}

	torndown := make(map[string]bool)
	for _, e := range entries {
		wantVersion, known := latest[e.Name]
		switch {
		case known && wantVersion == e.Version:
			continue
		case known:
			c.deleteVersion(e.Name, e.Version, e.FileName)
		default:
			c.deleteVersion(e.Name, e.Version, e.FileName)
			if !torndown[e.Name] {
				torndown[e.Name] = true
				c.tearDownComponent(ctx, e.Name)
			}
		}
	}
}

// deleteVersion removes one (name, version) pair's artifacts, unarchived
// artifacts, and recipe file, tolerating already-absent paths, mirroring
// delete_component_artifact/delete_component_recipe.
func (c *Cleaner) deleteVersion(name, version, recipeFileName string) {
	artifactsDir := filepath.Join(c.root, "packages", "artifacts", name, version)
	if err := os.RemoveAll(artifactsDir); err != nil {
		c.logger.Warnf("remove stale artifacts for %s-%s: %v", name, version, err)
	}

	unarchivedDir := filepath.Join(c.root, "packages", "artifacts-unarchived", name, version)
	if err := os.RemoveAll(unarchivedDir); err != nil {
		c.logger.Warnf("remove stale unarchived artifacts for %s-%s: %v", name, version, err)
	}

	recipePath := filepath.Join(c.root, "packages", "recipes", recipeFileName)
	if err := os.Remove(recipePath); err != nil && !os.IsNotExist(err) {
		c.logger.Warnf("remove stale recipe %s: %v", recipePath, err)
	}

	c.logger.Debugf("removed stale component %s-%s", name, version)
}

// tearDownComponent removes a component entirely absent from the latest
// resolved set: its config subtree, its packages/artifacts and
// packages/artifacts-unarchived directories, and its service units,
// mirroring delete_component's config deletion plus
// disable_and_unlink_service for RUN_STARTUP/INSTALL/BOOTSTRAP.
func (c *Cleaner) tearDownComponent(ctx context.Context, name string) {
	if err := c.store.Delete(ctx, configstore.Path("services", name)); err != nil {
		c.logger.Warnf("remove config for removed component %s: %v", name, err)
	} else {
		c.logger.Debugf("removed configuration of stale component %s", name)
	}

	for _, dir := range []string{"artifacts", "artifacts-unarchived"} {
		p := filepath.Join(c.root, "packages", dir, name)
		if err := os.RemoveAll(p); err != nil {
			c.logger.Warnf("remove %s for removed component %s: %v", dir, name, err)
		}
	}

	if c.units == nil {
		return
	}
	if err := c.units.StopDisableUnlinkAll(ctx, name); err != nil {
		c.logger.Warnf("tear down service units for removed component %s: %v", name, err)
	}
}
