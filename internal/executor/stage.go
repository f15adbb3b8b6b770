package executor

import (
	"context"
	"os"
	"path/filepath"

	"github.com/otiai10/copy"

	"github.com/greengrass-lite/ggdeploymentd/internal/configstore"
	"github.com/greengrass-lite/ggdeploymentd/internal/fetcher"
	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
	"github.com/greengrass-lite/ggdeploymentd/internal/model"
)

// stagedComponent is one resolved component carried forward into the
// bootstrap/install/run phases.
type stagedComponent struct {
	Name    string
	Version string
	Recipe  *model.Recipe
	Unit    TranslatedUnit
}

// stagePhase implements: for each resolved component,
// skip it if already completed this attempt; otherwise fetch artifacts
// unless the version is unchanged and the component is already running,
// write its version/configArn, apply its configuration update, translate
// its recipe to unit files, and either record it completed (unchanged and
// live) or carry it into toDeploy.
func (e *Executor) stagePhase(
	ctx context.Context,
	d *model.Deployment,
	resolved model.ResolvedComponentSet,
	f *fetcher.Fetcher,
	checkpoint *model.Checkpoint,
) ([]stagedComponent, error) {
	var toDeploy []stagedComponent

	for name, rc := range resolved {
		if checkpoint != nil {
			if v, ok := checkpoint.CompletedComponents[name]; ok && v == rc.Version {
				continue
			}
		}

		recipe, err := e.recipes.Find(name, rc.Version)
		if err != nil {
			return nil, ggerr.Wrap(ggerr.Failure, "load recipe for "+name, err)
		}

		var previousVersion string
		havePrevious := e.store.Get(ctx, configstore.Path("services", name, "version"), &previousVersion) == nil
		unchanged := havePrevious && previousVersion == rc.Version

		live := false
		if unchanged && e.running != nil {
			live, _ = e.running.IsRunning(ctx, name)
		}

		if !(unchanged && live) {
			if manifest, ok := model.SelectManifest(recipe, e.platform); ok {
				for _, artifact := range manifest.Artifacts {
					if _, ferr := f.Fetch(ctx, name, rc.Version, artifact); ferr != nil {
						return nil, ggerr.Wrap(ggerr.Failure, "fetch artifacts for "+name, ferr)
					}
				}
			}
		}

		if err := e.store.Put(ctx, configstore.Path("services", name, "version"), rc.Version); err != nil {
			return nil, ggerr.Wrap(ggerr.Failure, "record version for "+name, err)
		}
		if err := e.appendConfigArn(ctx, name, d.ConfigurationArn); err != nil {
			return nil, err
		}
		if req, ok := d.Components[name]; ok {
			if err := e.applyConfigurationUpdate(ctx, name, req.ConfigurationUpdate); err != nil {
				return nil, err
			}
		}

		var unit TranslatedUnit
		if e.translator != nil {
			stagingDir := filepath.Join(e.root, "packages", "artifacts", name, rc.Version)
			unit, err = e.translator.Translate(ctx, recipe, stagingDir)
			if err != nil {
				return nil, ggerr.Wrap(ggerr.Failure, "translate recipe for "+name, err)
			}
		}

		if unchanged && live {
			if err := e.bootstrap.SaveComponentCompleted(ctx, name, rc.Version); err != nil {
				return nil, err
			}
			continue
		}

		toDeploy = append(toDeploy, stagedComponent{Name: name, Version: rc.Version, Recipe: recipe, Unit: unit})
	}

	return toDeploy, nil
}

// copyTree merges the contents of src into dst, preserving relative paths,
// tolerating an absent src.
func copyTree(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return copy.Copy(src, dst)
}
