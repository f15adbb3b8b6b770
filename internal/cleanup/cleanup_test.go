package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greengrass-lite/ggdeploymentd/internal/configstore"
	"github.com/greengrass-lite/ggdeploymentd/internal/configstore/memstore"
	"github.com/greengrass-lite/ggdeploymentd/internal/recipestore"
	"github.com/greengrass-lite/ggdeploymentd/pkg/logging"
)

type fakeUnits struct {
	tornDown []string
}

func (f *fakeUnits) StopDisableUnlinkAll(_ context.Context, name string) error {
	f.tornDown = append(f.tornDown, name)
	return nil
}

func writeFixture(t *testing.T, root, name, version string) {
	t.Helper()
	recipeDir := filepath.Join(root, "packages", "recipes")
	require.NoError(t, os.MkdirAll(recipeDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(recipeDir, name+"-"+version+".json"), []byte(`{"ComponentName":"`+name+`"}`), 0o644))

	artifactsDir := filepath.Join(root, "packages", "artifacts", name, version)
	require.NoError(t, os.MkdirAll(artifactsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(artifactsDir, "payload.bin"), []byte("data"), 0o644))

	unarchivedDir := filepath.Join(root, "packages", "artifacts-unarchived", name, version)
	require.NoError(t, os.MkdirAll(unarchivedDir, 0o755))
}

func TestRunKeepsComponentMatchingLatestVersion(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "foo", "1.0.0")

	recipes := recipestore.New(filepath.Join(root, "packages", "recipes"))
	store := memstore.New()
	units := &fakeUnits{}
	c := New(root, recipes, store, units, logging.Discard())

	c.Run(context.Background(), map[string]string{"foo": "1.0.0"})

	assert.FileExists(t, filepath.Join(root, "packages", "recipes", "foo-1.0.0.json"))
	assert.Empty(t, units.tornDown)
}

func TestRunDeletesStaleVersionButKeepsComponentConfig(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "foo", "1.0.0")
	writeFixture(t, root, "foo", "2.0.0")

	recipes := recipestore.New(filepath.Join(root, "packages", "recipes"))
	store := memstore.New()
	units := &fakeUnits{}
	c := New(root, recipes, store, units, logging.Discard())

	c.Run(context.Background(), map[string]string{"foo": "2.0.0"})

	assert.NoFileExists(t, filepath.Join(root, "packages", "recipes", "foo-1.0.0.json"))
	assert.NoDirExists(t, filepath.Join(root, "packages", "artifacts", "foo", "1.0.0"))
	assert.FileExists(t, filepath.Join(root, "packages", "recipes", "foo-2.0.0.json"))
	assert.DirExists(t, filepath.Join(root, "packages", "artifacts", "foo", "2.0.0"))
	assert.Empty(t, units.tornDown, "component still in latest set, units must not be torn down")
}

func TestRunRemovesComponentAbsentFromLatestEntirely(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "bar", "1.0.0")

	recipes := recipestore.New(filepath.Join(root, "packages", "recipes"))
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, configstore.Path("services", "bar", "version"), "1.0.0"))

	units := &fakeUnits{}
	c := New(root, recipes, store, units, logging.Discard())

	c.Run(ctx, map[string]string{})

	assert.NoFileExists(t, filepath.Join(root, "packages", "recipes", "bar-1.0.0.json"))
	assert.NoDirExists(t, filepath.Join(root, "packages", "artifacts", "bar"))
	assert.Equal(t, []string{"bar"}, units.tornDown)

	var version string
	assert.Error(t, store.Get(ctx, configstore.Path("services", "bar", "version"), &version))
}

func TestRunTearsDownAbsentComponentOnlyOnce(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "bar", "1.0.0")
	writeFixture(t, root, "bar", "2.0.0")

	recipes := recipestore.New(filepath.Join(root, "packages", "recipes"))
	store := memstore.New()
	units := &fakeUnits{}
	c := New(root, recipes, store, units, logging.Discard())

	c.Run(context.Background(), map[string]string{})

	assert.Equal(t, []string{"bar"}, units.tornDown)
}

func TestRunToleratesEmptyRecipeDirectory(t *testing.T) {
	root := t.TempDir()
	recipes := recipestore.New(filepath.Join(root, "packages", "recipes"))
	store := memstore.New()
	c := New(root, recipes, store, nil, logging.Discard())

	c.Run(context.Background(), map[string]string{})
}
