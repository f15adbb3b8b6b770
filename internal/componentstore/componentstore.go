// Package componentstore enumerates on-disk components and versions and
// answers range-matching queries against semantic-version requirements.
package componentstore

import (
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
	"github.com/greengrass-lite/ggdeploymentd/internal/recipestore"
)

// Store answers "what versions of component X do I have on disk, and which
// of those satisfy requirement R" queries against a recipestore.Store.
type Store struct {
	recipes *recipestore.Store
}

// New wraps a recipe store.
func New(recipes *recipestore.Store) *Store {
	return &Store{recipes: recipes}
}

// Versions lists every on-disk version of name, sorted ascending.
func (s *Store) Versions(name string) ([]string, error) {
	all, err := s.recipes.List()
	if err != nil {
		return nil, err
	}

	var versions []*semver.Version
	for _, nv := range all {
		if nv.Name != name {
			continue
		}
		v, err := semver.NewVersion(nv.Version)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Sort(semver.Collection(versions))

	out := make([]string, len(versions))
	for i, v := range versions {
		out[i] = v.Original()
	}
	return out, nil
}

// MatchRequirement implements the range-checking the resolver needs for
// expressions like "==1.0.0" or ">=2.0.0 <3.0.0". When multiple on-disk
// versions satisfy the requirement, the last one enumerated (highest
// sorted) wins.
func (s *Store) MatchRequirement(name, requirement string) (string, bool, error) {
	constraint, err := semver.NewConstraint(requirement)
	if err != nil {
		return "", false, ggerr.Wrap(ggerr.Invalid, "parse version requirement "+requirement, err)
	}

	versions, err := s.Versions(name)
	if err != nil {
		return "", false, err
	}

	var best string
	for _, vs := range versions {
		v, err := semver.NewVersion(vs)
		if err != nil {
			continue
		}
		if constraint.Check(v) {
			best = vs
		}
	}
	return best, best != "", nil
}

// Satisfies reports whether version satisfies requirement.
func Satisfies(version, requirement string) (bool, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, ggerr.Wrap(ggerr.Invalid, "parse version "+version, err)
	}
	constraint, err := semver.NewConstraint(requirement)
	if err != nil {
		return false, ggerr.Wrap(ggerr.Invalid, "parse version requirement "+requirement, err)
	}
	return constraint.Check(v), nil
}

// Intersect combines two version-requirement expressions as a logical AND
// by concatenating them space-separated, matching the transitive-dependency
// merge rule: concatenation is interpreted as AND, realized here via
// Masterminds/semver's space-separated constraint-set syntax.
func Intersect(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + " " + b
}
