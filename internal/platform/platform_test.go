package platform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
)

type fakeStore struct {
	value string
	err   error
}

func (f fakeStore) Get(_ context.Context, _ string, out interface{}) error {
	if f.err != nil {
		return f.err
	}
	*out.(*string) = f.value
	return nil
}
func (fakeStore) Put(context.Context, string, interface{}) error    { return nil }
func (fakeStore) Delete(context.Context, string) error              { return nil }
func (fakeStore) Subscribe(context.Context, string, func()) error   { return nil }

func TestResolveFixedFields(t *testing.T) {
	attrs := Resolve(context.Background(), nil)
	assert.Equal(t, "linux", attrs.OS)
	assert.Equal(t, "aws_nucleus_lite", attrs.Runtime)
	assert.NotEmpty(t, attrs.Architecture)
}

func TestResolveAppliesArchitectureDetailOverride(t *testing.T) {
	attrs := Resolve(context.Background(), fakeStore{value: "armv7l"})
	assert.Equal(t, "armv7l", attrs.ArchitectureDetail)
}

func TestResolveIgnoresMissingOverride(t *testing.T) {
	attrs := Resolve(context.Background(), fakeStore{err: ggerr.New(ggerr.NoEntry, "absent")})
	assert.Empty(t, attrs.ArchitectureDetail)
}

func TestGoArchToPlatformArchMapping(t *testing.T) {
	assert.Equal(t, "x86_64", goArchToPlatformArch("amd64"))
	assert.Equal(t, "aarch64", goArchToPlatformArch("arm64"))
	assert.Equal(t, "riscv64", goArchToPlatformArch("riscv64"))
}
