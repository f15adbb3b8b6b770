// Package recipestore locates and parses per-component recipe files from
// the on-disk recipe directory, following the naming convention
// "<name>-<version>.<ext>", ext ∈ {yaml, yml, json}.
package recipestore

import (
	"encoding/base64"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
	"github.com/greengrass-lite/ggdeploymentd/internal/model"
)

var recipeExtensions = []string{".yaml", ".yml", ".json"}

var validate = validator.New()

// Store locates and parses recipe files under a single directory
// (<root>/packages/recipes, on-disk layout).
type Store struct {
	dir fs.FS
	// diskDir is the real filesystem path backing dir, used to write new
	// recipes fetched from the cloud. Empty when Store
	// was constructed over a read-only fs.FS (e.g. in tests via
	// afero/fstest).
	diskDir string
}

// New constructs a Store rooted at dir (a real filesystem directory).
func New(dir string) *Store {
	return &Store{dir: os.DirFS(dir), diskDir: dir}
}

// NewFromFS constructs a read-only Store over an arbitrary fs.FS, for
// tests that only need to enumerate/parse recipes already present.
func NewFromFS(fsys fs.FS) *Store {
	return &Store{dir: fsys}
}

// recipeFileNames returns "<name>-<version>.<ext>" for each supported
// extension, in the order Find tries them.
func recipeFileNames(name, version string) []string {
	base := name + "-" + version
	out := make([]string, len(recipeExtensions))
	for i, ext := range recipeExtensions {
		out[i] = base + ext
	}
	return out
}

// Find locates and parses the recipe for (name, version), trying each
// supported extension in turn.
func (s *Store) Find(name, version string) (*model.Recipe, error) {
	for _, fname := range recipeFileNames(name, version) {
		data, err := fs.ReadFile(s.dir, fname)
		if err != nil {
			continue
		}
		return parseRecipe(fname, data)
	}
	return nil, ggerr.New(ggerr.NoEntry, "no recipe found for "+name+"-"+version)
}

func parseRecipe(fname string, data []byte) (*model.Recipe, error) {
	var r model.Recipe
	if strings.HasSuffix(fname, ".json") {
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, ggerr.Wrap(ggerr.Parse, "parse recipe "+fname, err)
		}
	} else if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, ggerr.Wrap(ggerr.Parse, "parse recipe "+fname, err)
	}

	if err := validate.Struct(&r); err != nil {
		return nil, ggerr.Wrap(ggerr.Invalid, "validate recipe "+fname, err)
	}
	return &r, nil
}

// ParsedName splits a recipe file name into (name, version) by splitting
// at the first "-" and stripping the extension, matching the stale-cleanup
// parsing rule.
func ParsedName(fname string) (name, version string, ok bool) {
	base := fname
	for _, ext := range recipeExtensions {
		if strings.HasSuffix(base, ext) {
			base = strings.TrimSuffix(base, ext)
			break
		}
	}
	idx := strings.Index(base, "-")
	if idx < 0 {
		return "", "", false
	}
	return base[:idx], base[idx+1:], true
}

// List enumerates every (name, version) pair present in the recipe
// directory, used by stale cleanup.
func (s *Store) List() ([]NameVersion, error) {
	entries, err := fs.ReadDir(s.dir, ".")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ggerr.Wrap(ggerr.Failure, "list recipe directory", err)
	}

	var out []NameVersion
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name, version, ok := ParsedName(e.Name())
		if !ok {
			continue
		}
		out = append(out, NameVersion{Name: name, Version: version, FileName: e.Name()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// NameVersion is one recipe file's parsed identity.
type NameVersion struct {
	Name     string
	Version  string
	FileName string
}

// WriteFromCloud persists a base64-encoded recipe body returned by
// resolveComponentCandidates to <root>/packages/recipes/<name>-<version>.json.
func (s *Store) WriteFromCloud(name, version string, base64Body string) error {
	if s.diskDir == "" {
		return ggerr.New(ggerr.Failure, "recipe store is read-only (no backing directory)")
	}
	decoded, err := base64.StdEncoding.DecodeString(base64Body)
	if err != nil {
		return ggerr.Wrap(ggerr.Parse, "base64-decode recipe for "+name+"-"+version, err)
	}
	if err := os.MkdirAll(s.diskDir, 0o755); err != nil {
		return ggerr.Wrap(ggerr.Failure, "create recipe directory", err)
	}
	path := filepath.Join(s.diskDir, name+"-"+version+".json")
	if err := os.WriteFile(path, decoded, 0o644); err != nil {
		return ggerr.Wrap(ggerr.Failure, "write recipe "+path, err)
	}
	return nil
}
