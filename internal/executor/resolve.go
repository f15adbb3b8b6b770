package executor

import (
	"context"
	"fmt"

	"github.com/greengrass-lite/ggdeploymentd/internal/configstore"
	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
	"github.com/greengrass-lite/ggdeploymentd/internal/model"
)

const deploymentServiceRoot = "services/DeploymentService"

// resolveComponentSet implements steps 1-5 (extract this
// deployment's roots, persist them, merge in every other thing group's
// persisted roots plus, for non-local deployments, the local-deployments
// roots) and then delegates steps 6-8 (resolve-and-expand) to
// internal/resolver.
func (e *Executor) resolveComponentSet(ctx context.Context, d *model.Deployment) (model.ResolvedComponentSet, error) {
	roots := make(map[string]string, len(d.Components))
	for name, req := range d.Components {
		if name == nucleusComponentName {
			if req.Version != e.nucleusVersion {
				return nil, ggerr.New(ggerr.Invalid, fmt.Sprintf(
					"deployment requests nucleus version %s, running %s", req.Version, e.nucleusVersion))
			}
			continue
		}
		roots[name] = req.Version
	}

	groupKey := configstore.Path(deploymentServiceRoot, "thingGroupsToRootComponents", d.ThingGroup)
	if err := e.store.Delete(ctx, groupKey); err != nil {
		return nil, ggerr.Wrap(ggerr.Failure, "clear persisted roots for group "+d.ThingGroup, err)
	}
	for name, req := range roots {
		if err := e.store.Put(ctx, configstore.Path(groupKey, name), req); err != nil {
			return nil, ggerr.Wrap(ggerr.Failure, "persist root "+name+" for group "+d.ThingGroup, err)
		}
	}

	groups, err := e.fetchThingGroups(ctx, d)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]string, len(roots))
	for name, req := range roots {
		merged[name] = req
	}

	for _, group := range groups {
		if group == d.ThingGroup {
			continue
		}
		otherRoots, err := e.loadGroupRoots(ctx, group)
		if err != nil {
			continue
		}
		if err := mergeRoots(merged, otherRoots); err != nil {
			return nil, err
		}
	}

	if d.Type != model.Local {
		if localRoots, err := e.loadGroupRoots(ctx, model.LocalDeploymentsGroup); err == nil {
			if err := mergeRoots(merged, localRoots); err != nil {
				return nil, err
			}
		}
	}

	return e.resolver.Resolve(ctx, merged)
}

// mergeRoots folds other into into, failing if a component already present
// in into carries a different version-requirement string (step
// 4, "if requirements are string-equal, skip; otherwise fail with a
// version-conflict error").
func mergeRoots(into map[string]string, other map[string]string) error {
	for name, req := range other {
		if existing, ok := into[name]; ok {
			if existing != req {
				return ggerr.New(ggerr.Invalid, fmt.Sprintf(
					"version conflict for %s across thing groups: %q vs %q", name, existing, req))
			}
			continue
		}
		into[name] = req
	}
	return nil
}

// fetchThingGroups retrieves the device's current thing-group membership
// from the cloud, persisting it on success and falling back to the last
// persisted snapshot for local deployments on failure.
func (e *Executor) fetchThingGroups(ctx context.Context, d *model.Deployment) ([]string, error) {
	if e.thingGroups == nil {
		return nil, nil
	}

	groups, err := e.thingGroups.ThingGroups(ctx)
	if err == nil {
		if perr := e.store.Put(ctx, configstore.Path(deploymentServiceRoot, "lastThingGroupsListFromCloud"), groups); perr != nil {
			e.logger.Warnf("persist last thing groups list: %v", perr)
		}
		return groups, nil
	}

	if d.Type != model.Local {
		return nil, ggerr.Wrap(ggerr.Remote, "retrieve thing groups", err)
	}

	var last []string
	if gerr := e.store.Get(ctx, configstore.Path(deploymentServiceRoot, "lastThingGroupsListFromCloud"), &last); gerr != nil {
		return nil, nil
	}
	return last, nil
}

// loadGroupRoots reads the persisted root-component map for group.
func (e *Executor) loadGroupRoots(ctx context.Context, group string) (map[string]string, error) {
	var roots map[string]string
	if err := e.store.Get(ctx, configstore.Path(deploymentServiceRoot, "thingGroupsToRootComponents", group), &roots); err != nil {
		return nil, err
	}
	return roots, nil
}
