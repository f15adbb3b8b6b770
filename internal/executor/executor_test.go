package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greengrass-lite/ggdeploymentd/internal/bootstrap"
	"github.com/greengrass-lite/ggdeploymentd/internal/cleanup"
	"github.com/greengrass-lite/ggdeploymentd/internal/componentstore"
	"github.com/greengrass-lite/ggdeploymentd/internal/configstore"
	"github.com/greengrass-lite/ggdeploymentd/internal/configstore/memstore"
	"github.com/greengrass-lite/ggdeploymentd/internal/model"
	"github.com/greengrass-lite/ggdeploymentd/internal/recipestore"
	"github.com/greengrass-lite/ggdeploymentd/internal/resolver"
	"github.com/greengrass-lite/ggdeploymentd/pkg/logging"
)

type fakeUnits struct {
	linked  []string
	enabled []string
}

func (f *fakeUnits) Link(_ context.Context, path string) error   { f.linked = append(f.linked, path); return nil }
func (f *fakeUnits) Start(_ context.Context, _ string) error     { return nil }
func (f *fakeUnits) Enable(_ context.Context, name string) error { f.enabled = append(f.enabled, name); return nil }
func (f *fakeUnits) Stop(_ context.Context, _ string) error      { return nil }
func (f *fakeUnits) Disable(_ context.Context, _ string) error   { return nil }
func (f *fakeUnits) Unlink(_ context.Context, _ string) error    { return nil }
func (f *fakeUnits) DaemonReload(context.Context) error          { return nil }
func (f *fakeUnits) ResetFailed(context.Context) error           { return nil }

type fakeHealth struct{}

func (fakeHealth) WaitForState(context.Context, string, time.Duration) (LifecycleState, error) {
	return StateRunning, nil
}

type fakeTranslator struct{}

func (fakeTranslator) Translate(_ context.Context, recipe *model.Recipe, _ string) (TranslatedUnit, error) {
	return TranslatedUnit{ServiceUnitPath: "/etc/ggl/ggl." + recipe.ComponentName + ".service"}, nil
}

func writeRecipe(t *testing.T, dir, name, version string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	body := `{"ComponentName":"` + name + `","ComponentVersion":"` + version + `"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+"-"+version+".json"), []byte(body), 0o644))
}

func newTestExecutor(t *testing.T, root string, store configstore.Store, units *fakeUnits) *Executor {
	t.Helper()
	recipeDir := filepath.Join(root, "packages", "recipes")
	recipes := recipestore.New(recipeDir)
	components := componentstore.New(recipes)
	res := resolver.New(components, recipes, nil)
	bs := bootstrap.New(store)
	cl := cleanup.New(root, recipes, store, nil, logging.Discard())

	return New(Config{
		Root:      root,
		Resolver:  res,
		Recipes:   recipes,
		Store:     store,
		Bootstrap: bs,
		Cleanup:   cl,
		Units:     units,
		Health:    fakeHealth{},
		Translator: fakeTranslator{},
		Logger:    logging.Discard(),
	})
}

func TestHandleDeploymentLocalSingleComponentNoDeps(t *testing.T) {
	root := t.TempDir()
	writeRecipe(t, filepath.Join(root, "packages", "recipes"), "foo", "1.0.0")

	store := memstore.New()
	units := &fakeUnits{}
	e := newTestExecutor(t, root, store, units)

	d := &model.Deployment{
		DeploymentID: "L1",
		Type:         model.Local,
		ThingGroup:   model.LocalDeploymentsGroup,
		Components:   map[string]model.ComponentRequest{"foo": {Version: "1.0.0"}},
	}

	ctx := context.Background()
	require.NoError(t, e.handleDeployment(ctx, d))

	var version string
	require.NoError(t, store.Get(ctx, configstore.Path("services", "foo", "version"), &version))
	assert.Equal(t, "1.0.0", version)

	var rootReq string
	require.NoError(t, store.Get(ctx, configstore.Path(
		"services", "DeploymentService", "thingGroupsToRootComponents", model.LocalDeploymentsGroup, "foo"), &rootReq))
	assert.Equal(t, "1.0.0", rootReq)

	assert.Contains(t, units.linked, "/etc/ggl/ggl.foo.service")
	assert.Contains(t, units.enabled, "ggl.foo.service")
}

func TestHandleDeploymentRemovesStaleComponentNoLongerRequested(t *testing.T) {
	root := t.TempDir()
	recipeDir := filepath.Join(root, "packages", "recipes")
	writeRecipe(t, recipeDir, "foo", "1.0.0")
	writeRecipe(t, recipeDir, "bar", "1.0.0")

	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, configstore.Path("services", "bar", "version"), "1.0.0"))

	units := &fakeUnits{}
	e := newTestExecutor(t, root, store, units)

	d := &model.Deployment{
		DeploymentID: "L2",
		Type:         model.Local,
		ThingGroup:   model.LocalDeploymentsGroup,
		Components:   map[string]model.ComponentRequest{"foo": {Version: "1.0.0"}},
	}
	require.NoError(t, e.handleDeployment(ctx, d))

	assert.NoFileExists(t, filepath.Join(recipeDir, "bar-1.0.0.json"))
	var version string
	assert.Error(t, store.Get(ctx, configstore.Path("services", "bar", "version"), &version))
}

func TestResolveComponentSetFailsOnCrossGroupVersionConflict(t *testing.T) {
	root := t.TempDir()
	writeRecipe(t, filepath.Join(root, "packages", "recipes"), "foo", "1.0.0")

	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, configstore.Path(
		"services", "DeploymentService", "thingGroupsToRootComponents", "group-a", "foo"), "2.0.0"))

	units := &fakeUnits{}
	e := newTestExecutor(t, root, store, units)
	e.thingGroups = staticThingGroups{"group-a", "group-b"}

	d := &model.Deployment{
		DeploymentID: "C1",
		Type:         model.ThingGroup,
		ThingGroup:   "group-b",
		Components:   map[string]model.ComponentRequest{"foo": {Version: "1.0.0"}},
	}

	_, err := e.resolveComponentSet(ctx, d)
	assert.Error(t, err)
}

type staticThingGroups []string

func (s staticThingGroups) ThingGroups(context.Context) ([]string, error) { return s, nil }
