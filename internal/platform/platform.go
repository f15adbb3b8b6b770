// Package platform resolves this device's platform attributes for the
// cloud resolveComponentCandidates payload and config key
// "platformOverride/architecture.detail": a fixed OS and runtime, the
// architecture read from the Go build target, and an optional
// architecture-detail override from config (e.g. to distinguish an
// armv7l from a generic arm device, which runtime.GOARCH alone can't
// express). This resolution has no direct original-source equivalent; it
// exists to satisfy model.PlatformAttributes, the shape the resolver's
// cloud fallback and recipe manifest selection both already consume.
package platform

import (
	"context"
	"runtime"

	"github.com/greengrass-lite/ggdeploymentd/internal/configstore"
	"github.com/greengrass-lite/ggdeploymentd/internal/model"
)

// os and runtimeName are fixed for this implementation: every resolved
// device reports {os: linux, runtime: aws_nucleus_lite, ...}.
const (
	os          = "linux"
	runtimeName = "aws_nucleus_lite"
)

// archDetailKey is where an operator-supplied architecture detail override
// lives in config, when runtime.GOARCH's coarse value isn't specific
// enough for a recipe's platform selector.
const archDetailKey = "platformOverride/architecture.detail"

// Resolve builds this device's PlatformAttributes, reading an optional
// architecture-detail override from store. A missing or unreadable
// override is not an error: ArchitectureDetail is simply left empty.
func Resolve(ctx context.Context, store configstore.Store) model.PlatformAttributes {
	attrs := model.PlatformAttributes{
		OS:           os,
		Runtime:      runtimeName,
		Architecture: goArchToPlatformArch(runtime.GOARCH),
	}

	if store == nil {
		return attrs
	}
	var detail string
	if err := store.Get(ctx, archDetailKey, &detail); err == nil && detail != "" {
		attrs.ArchitectureDetail = detail
	}
	return attrs
}

// goArchToPlatformArch maps Go's build-architecture names to the names
// Greengrass recipes use in platform selectors, which follow uname -m
// conventions rather than Go's.
func goArchToPlatformArch(goarch string) string {
	switch goarch {
	case "amd64":
		return "x86_64"
	case "386":
		return "x86"
	case "arm64":
		return "aarch64"
	case "arm":
		return "arm"
	default:
		return goarch
	}
}
