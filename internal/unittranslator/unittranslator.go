// Package unittranslator invokes the external recipe-to-unit tool as a
// normal subprocess, replacing the original's fork()/execvp() call.
// The translator's output contract — a set of named unit files — is the
// only coupling; recipe lifecycle script interpretation is delegated
// entirely to this external tool, and this package only shells out to it
// and validates its declared output.
package unittranslator

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"

	"github.com/greengrass-lite/ggdeploymentd/internal/executor"
	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
	"github.com/greengrass-lite/ggdeploymentd/internal/model"
)

// DefaultBinary is the external tool's name on PATH, overridable via
// Translator.BinaryPath for devices that install it elsewhere.
const DefaultBinary = "recipe2unit"

// toolOutput is the JSON contract the external translator prints to
// stdout: the component name it determined (for the caller to verify
// against the recipe it was asked to translate) and whichever of the
// three unit paths the recipe's lifecycle sections produced.
type toolOutput struct {
	ComponentName     string `json:"componentName"`
	ServiceUnitPath   string `json:"serviceUnitPath,omitempty"`
	InstallUnitPath   string `json:"installUnitPath,omitempty"`
	BootstrapUnitPath string `json:"bootstrapUnitPath,omitempty"`
}

// Translator shells out to the recipe-to-unit tool. It implements
// executor.Translator.
type Translator struct {
	BinaryPath string
}

var _ executor.Translator = (*Translator)(nil)

// Translate pipes recipe as JSON on stdin to the external tool, run with
// --staging-dir stagingDir, and validates that the unit(s) it produced
// declare the same component name the recipe did.
func (t *Translator) Translate(ctx context.Context, recipe *model.Recipe, stagingDir string) (executor.TranslatedUnit, error) {
	binary := t.BinaryPath
	if binary == "" {
		binary = DefaultBinary
	}

	recipeJSON, err := json.Marshal(recipe)
	if err != nil {
		return executor.TranslatedUnit{}, ggerr.Wrap(ggerr.Parse, "encode recipe for translator", err)
	}

	cmd := exec.CommandContext(ctx, binary, "--staging-dir", stagingDir)
	cmd.Stdin = bytes.NewReader(recipeJSON)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return executor.TranslatedUnit{}, ggerr.Wrap(ggerr.Failure, "recipe-to-unit translator failed: "+stderr.String(), err)
	}

	var out toolOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return executor.TranslatedUnit{}, ggerr.Wrap(ggerr.Parse, "decode translator output", err)
	}
	if out.ComponentName != recipe.ComponentName {
		return executor.TranslatedUnit{}, ggerr.New(ggerr.Invalid,
			"translator produced units for "+out.ComponentName+", expected "+recipe.ComponentName)
	}

	return executor.TranslatedUnit{
		ServiceUnitPath:   out.ServiceUnitPath,
		InstallUnitPath:   out.InstallUnitPath,
		BootstrapUnitPath: out.BootstrapUnitPath,
	}, nil
}
