package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// New wires the config store first, then the dataplane client (which
// requires a device certificate/key pair). Without one, construction must
// fail cleanly rather than panic, so callers learn about a broken
// environment before anything starts listening.
func TestNewFailsWithoutDeviceCertificate(t *testing.T) {
	_, err := New(Config{Root: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dataplane")
}
