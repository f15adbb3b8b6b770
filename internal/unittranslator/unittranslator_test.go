package unittranslator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greengrass-lite/ggdeploymentd/internal/model"
)

// writeFakeTranslator drops an executable shell script on disk that
// prints the given stdout verbatim, standing in for the external
// recipe-to-unit tool.
func writeFakeTranslator(t *testing.T, stdout string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-recipe2unit.sh")
	script := "#!/bin/sh\ncat >/dev/null\nprintf '%s' " + shellQuote(stdout) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func shellQuote(s string) string {
	return "'" + s + "'"
}

func TestTranslateSucceedsAndValidatesComponentName(t *testing.T) {
	binary := writeFakeTranslator(t, `{"componentName":"com.example.Foo","serviceUnitPath":"/svc/ggl.com.example.Foo.service"}`)
	tr := &Translator{BinaryPath: binary}

	out, err := tr.Translate(context.Background(), &model.Recipe{ComponentName: "com.example.Foo"}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "/svc/ggl.com.example.Foo.service", out.ServiceUnitPath)
}

func TestTranslateRejectsComponentNameMismatch(t *testing.T) {
	binary := writeFakeTranslator(t, `{"componentName":"com.example.Other"}`)
	tr := &Translator{BinaryPath: binary}

	_, err := tr.Translate(context.Background(), &model.Recipe{ComponentName: "com.example.Foo"}, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "com.example.Other")
}

func TestTranslateRejectsMalformedOutput(t *testing.T) {
	binary := writeFakeTranslator(t, `not json`)
	tr := &Translator{BinaryPath: binary}

	_, err := tr.Translate(context.Background(), &model.Recipe{ComponentName: "com.example.Foo"}, t.TempDir())
	require.Error(t, err)
}

func TestTranslateRejectsMissingBinary(t *testing.T) {
	tr := &Translator{BinaryPath: filepath.Join(t.TempDir(), "does-not-exist")}

	_, err := tr.Translate(context.Background(), &model.Recipe{ComponentName: "com.example.Foo"}, t.TempDir())
	require.Error(t, err)
}
