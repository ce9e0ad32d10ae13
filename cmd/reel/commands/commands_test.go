package commands

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/reel/am"
	"github.com/teranos/reel/gateway"
)

// isolate points config, database and storage at a temp dir
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		_ = os.Chdir(wd)
		am.Reset()
	})
	t.Setenv("HOME", dir)
	t.Setenv("REEL_DATABASE_PATH", filepath.Join(dir, "reel.db"))
	t.Setenv("REEL_STORAGE_LOCAL_DIR", filepath.Join(dir, "media"))
	t.Setenv("REEL_HOUSEKEEPING_INTERVAL_SECONDS", "0")
	am.Reset()
	return dir
}

func TestRenderConfigFormats(t *testing.T) {
	cfg := am.DefaultConfig()
	cfg.Providers.DashScope.APIKey = "sk-very-secret-1234"

	for _, format := range []string{"toml", "json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			out, err := renderConfig(cfg, format)
			require.NoError(t, err)
			assert.Contains(t, out, "workers")
			assert.NotContains(t, out, "sk-very-secret")
		})
	}

	_, err := renderConfig(cfg, "ini")
	assert.Error(t, err)
}

func TestMaskedLeavesOriginalIntact(t *testing.T) {
	cfg := am.DefaultConfig()
	cfg.Providers.DashScope.ModelKeys = []am.ModelKey{{Model: "wan2.1", APIKey: "sk-wan-abcdef"}}
	cfg.Server.APITokens = []string{"token-123456"}

	m := masked(cfg)
	assert.Equal(t, "****cdef", m.Providers.DashScope.ModelKeys[0].APIKey)
	assert.Equal(t, "wan2.1", m.Providers.DashScope.ModelKeys[0].Model)
	assert.Equal(t, "****3456", m.Server.APITokens[0])
	assert.Equal(t, "sk-wan-abcdef", cfg.Providers.DashScope.ModelKeys[0].APIKey)
	assert.Equal(t, "token-123456", cfg.Server.APITokens[0])
}

func TestReadEventFromStdin(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetIn(strings.NewReader(`{"httpMethod":"GET"}`))
	data, err := readEvent(cmd, "-")
	require.NoError(t, err)
	assert.JSONEq(t, `{"httpMethod":"GET"}`, string(data))

	_, err = readEvent(cmd, filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func runInvokeWith(t *testing.T, event string) gateway.EventResponse {
	t.Helper()
	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, []byte(event), 0600))

	invokeEvent, invokeWait = path, false
	var out bytes.Buffer
	InvokeCmd.SetOut(&out)
	require.NoError(t, runInvoke(InvokeCmd, nil))

	var resp gateway.EventResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	return resp
}

func TestInvokeStatusForMissingJob(t *testing.T) {
	isolate(t)

	resp := runInvokeWith(t, `{"httpMethod":"GET","path":"/api/video/status","queryStringParameters":{"job_id":"nope"}}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, resp.Body, "not_found")
}

func TestInvokeMalformedEvent(t *testing.T) {
	isolate(t)

	resp := runInvokeWith(t, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInvokeCreateWithoutInput(t *testing.T) {
	isolate(t)

	resp := runInvokeWith(t, `{"httpMethod":"POST","path":"/api/image/create","body":"{}"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, resp.Body, "invalid_input")
}

func TestAmInitWritesLoadableConfig(t *testing.T) {
	dir := isolate(t)

	var out bytes.Buffer
	amInitCmd.SetOut(&out)
	require.NoError(t, runAmInit(amInitCmd, nil))
	assert.Contains(t, out.String(), "am.toml")

	cfg, err := am.LoadFromFile(filepath.Join(dir, "am.toml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, am.DefaultConfig().Pipeline.Workers, cfg.Pipeline.Workers)
}
