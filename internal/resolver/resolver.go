// Package resolver expands a deployment's root component set into a full,
// version-pinned dependency tree, preferring on-disk candidates over the
// cloud dataplane, grounded on deployment_handler.c's resolve_dependencies.
package resolver

import (
	"context"

	"github.com/greengrass-lite/ggdeploymentd/internal/componentstore"
	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
	"github.com/greengrass-lite/ggdeploymentd/internal/model"
	"github.com/greengrass-lite/ggdeploymentd/internal/recipestore"
)

// CloudResolver resolves a single component name/requirement pair against
// the cloud dataplane's resolveComponentCandidates operation when no local
// candidate satisfies the requirement, returning the resolved version and
// persisting the recipe it returned. Implemented by internal/dataplane;
// declared here to avoid resolver depending on the HTTP client package.
type CloudResolver interface {
	ResolveComponentCandidates(ctx context.Context, name, requirement string) (version string, err error)
}

// Resolver expands root components into a flat, dependency-closed,
// version-pinned set.
type Resolver struct {
	components *componentstore.Store
	recipes    *recipestore.Store
	cloud      CloudResolver
}

// New constructs a Resolver. cloud may be nil, in which case unresolvable
// components fail immediately instead of falling back to the cloud
// dataplane (used for fully offline/local-only deployments in tests).
func New(components *componentstore.Store, recipes *recipestore.Store, cloud CloudResolver) *Resolver {
	return &Resolver{components: components, recipes: recipes, cloud: cloud}
}

// pending tracks one not-yet-resolved component's accumulated version
// requirement, mirroring components_to_resolve in the original worklist.
type pending struct {
	name        string
	requirement string
}

// Resolve expands roots (component name -> version requirement expression)
// into the full transitive dependency set. Already-resolved components
// encountered again as a dependency must still satisfy the newly discovered
// requirement, or resolution fails.
func (r *Resolver) Resolve(ctx context.Context, roots map[string]string) (model.ResolvedComponentSet, error) {
	resolved := make(model.ResolvedComponentSet)

	var worklist []pending
	requirementOf := make(map[string]string)
	for name, req := range roots {
		worklist = append(worklist, pending{name: name, requirement: req})
		requirementOf[name] = req
	}

	for len(worklist) > 0 {
		item := worklist[0]
		worklist = worklist[1:]
		item.requirement = requirementOf[item.name]

		if existing, ok := resolved[item.name]; ok {
			// Already resolved as part of this expansion; re-validate the
			// new requirement against the pinned version rather than
			// resolving it twice.
			ok, err := componentstore.Satisfies(existing.Version, item.requirement)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, ggerr.New(ggerr.Failure, "resolved component "+item.name+"@"+existing.Version+" does not satisfy dependency requirement "+item.requirement)
			}
			continue
		}

		version, err := r.resolveOne(ctx, item.name, item.requirement)
		if err != nil {
			return nil, err
		}
		resolved[item.name] = model.ResolvedComponent{Version: version}

		recipe, err := r.recipes.Find(item.name, version)
		if err != nil {
			return nil, err
		}

		for depName, dep := range recipe.ComponentDependencies {
			if model.IgnoredDependencies[depName] {
				continue
			}

			if existing, ok := resolved[depName]; ok {
				ok, err := componentstore.Satisfies(existing.Version, dep.VersionRequirement)
				if err != nil {
					return nil, err
				}
				if !ok {
					return nil, ggerr.New(ggerr.Failure, "resolved component "+depName+"@"+existing.Version+" does not satisfy dependency requirement from "+item.name+": "+dep.VersionRequirement)
				}
				continue
			}

			if prevReq, ok := requirementOf[depName]; ok {
				merged := componentstore.Intersect(prevReq, dep.VersionRequirement)
				requirementOf[depName] = merged
				continue
			}

			requirementOf[depName] = dep.VersionRequirement
			worklist = append(worklist, pending{name: depName, requirement: dep.VersionRequirement})
		}
	}

	return resolved, nil
}

// resolveOne picks a version for a single component: an on-disk candidate
// satisfying requirement wins over asking the cloud, matching
// resolve_component_version's local-first behavior.
func (r *Resolver) resolveOne(ctx context.Context, name, requirement string) (string, error) {
	if version, ok, err := r.components.MatchRequirement(name, requirement); err != nil {
		return "", err
	} else if ok {
		return version, nil
	}

	if r.cloud == nil {
		return "", ggerr.New(ggerr.NoEntry, "no local candidate for "+name+" satisfying "+requirement+" and no cloud dataplane configured")
	}

	version, err := r.cloud.ResolveComponentCandidates(ctx, name, requirement)
	if err != nil {
		return "", err
	}
	return version, nil
}
