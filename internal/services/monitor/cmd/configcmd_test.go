package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigInitWritesTemplate(t *testing.T) {
	t.Setenv("METER_HOST", "watermeter.local")
	t.Setenv("FLOW_LIMITS", "")
	path := filepath.Join(t.TempDir(), "fm.yaml")
	empty := ""

	var out bytes.Buffer
	cmd := configCmd(&empty)
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"init", path})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "meter_host: watermeter.local")

	cmd = configCmd(&empty)
	cmd.SetArgs([]string{"init", path})
	cmd.SilenceUsage = true
	assert.Error(t, cmd.Execute())

	cmd = configCmd(&empty)
	cmd.SetArgs([]string{"init", "--force", path})
	assert.NoError(t, cmd.Execute())
}
