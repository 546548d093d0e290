package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anshul1007/vermillion/internal/config"
)

// runCLI executes the root command with args. If configPath is set it is
// passed as --config.
func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if configPath != "" {
		args = append([]string{"--config", configPath}, args...)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// writeConfig writes a config rooted in a temp dir and returns its path.
func writeConfig(t *testing.T, serverURL string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
server_url: %q
data_dir: %q
server_db: %q
photo_dir: %q
access_token: tok
sync:
  base_delay_ms: 1
  max_delay_ms: 2
`, serverURL, filepath.Join(dir, "data"), filepath.Join(dir, "server.db"), filepath.Join(dir, "server-photos"))
	path := filepath.Join(dir, "vermillion.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path, dir
}

type response[T any] struct {
	Status string    `json:"status"`
	Data   T         `json:"data"`
	Error  *CLIError `json:"error"`
}

func decode[T any](t *testing.T, out string) response[T] {
	t.Helper()
	var r response[T]
	require.NoError(t, json.Unmarshal([]byte(out), &r), "output: %s", out)
	return r
}

func TestEnqueueAndList(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")

	out, _, err := runCLI(t, cfgPath, "--format", "json", "enqueue", "CreateRecord",
		`{"personType":"Labour","personRef":12,"action":"Entry"}`)
	require.NoError(t, err)
	queued := decode[actionJSON](t, out)
	assert.Equal(t, "ok", queued.Status)
	assert.NotEmpty(t, queued.Data.ClientID)
	assert.Contains(t, queued.Data.Payload, "timestamp")

	out, _, err = runCLI(t, cfgPath, "--format", "json", "queue", "list")
	require.NoError(t, err)
	list := decode[[]actionJSON](t, out)
	require.Len(t, list.Data, 1)
	assert.Equal(t, queued.Data.ClientID, list.Data[0].ClientID)
	assert.Equal(t, "pending", list.Data[0].Status)

	out, _, err = runCLI(t, cfgPath, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "CreateRecord")
	assert.Contains(t, out, queued.Data.ClientID)

	out, _, err = runCLI(t, cfgPath, "queue", "stats")
	require.NoError(t, err)
	assert.Equal(t, "pending=1 processing=0 failed=0 total=1\n", out)
}

func TestEnqueue_BadInput(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")

	out, _, err := runCLI(t, cfgPath, "--format", "json", "enqueue", "DeleteRecord", `{}`)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.True(t, Reported(err))
	assert.Equal(t, ErrCodeInput, decode[any](t, out).Error.Code)

	_, _, err = runCLI(t, cfgPath, "enqueue", "CreateRecord", `[1,2]`)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = runCLI(t, cfgPath, "queue", "list", "--status", "stuck")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestBadConfigIsCommandError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vermillion.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: "+dir+"\nsync:\n  batch_size: 0\n"), 0o644))

	_, _, err := runCLI(t, path, "queue", "stats")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	var ve *config.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestPersonRegisterAndList(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")

	out, _, err := runCLI(t, cfgPath, "--format", "json", "person", "register", "--type", "Visitor", "--name", "Meera")
	require.NoError(t, err)
	reg := decode[map[string]any](t, out)
	clientID, _ := reg.Data["clientId"].(string)
	require.NotEmpty(t, clientID)

	out, _, err = runCLI(t, cfgPath, "--format", "json", "person", "list")
	require.NoError(t, err)
	persons := decode[[]personJSON](t, out)
	require.Len(t, persons.Data, 1)
	assert.Equal(t, clientID, persons.Data[0].ClientID)
	assert.Nil(t, persons.Data[0].ServerID)

	_, _, err = runCLI(t, cfgPath, "person", "register", "--name", "")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPhotoSaveAndResolve(t *testing.T) {
	cfgPath, dir := writeConfig(t, "")
	img := filepath.Join(dir, "capture.jpg")
	require.NoError(t, os.WriteFile(img, []byte("not really a jpeg"), 0o644))

	out, _, err := runCLI(t, cfgPath, "photo", "save", img)
	require.NoError(t, err)
	ref := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(ref, "local-photo:"), ref)

	out, _, err = runCLI(t, cfgPath, "photo", "save", img)
	require.NoError(t, err)
	assert.Contains(t, out, "already staged")

	out, _, err = runCLI(t, cfgPath, "photo", "resolve", ref)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "data:"))
}

func TestSyncAgainstServer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfgPath, _ := writeConfig(t, "")
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	srv, err := openServer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { srv.svc.Close() })
	ts := httptest.NewServer(srv.handler)
	t.Cleanup(ts.Close)

	// Point the device at the running server.
	t.Setenv(config.EnvPrefix+"SERVER_URL", ts.URL)

	_, _, err = runCLI(t, cfgPath, "person", "register", "--name", "Ravi")
	require.NoError(t, err)
	out, _, err := runCLI(t, cfgPath, "--format", "json", "person", "list")
	require.NoError(t, err)
	clientID := decode[[]personJSON](t, out).Data[0].ClientID

	_, _, err = runCLI(t, cfgPath, "enqueue", "CreateRecord",
		fmt.Sprintf(`{"personType":"Labour","personRef":%q,"action":"Entry"}`, clientID))
	require.NoError(t, err)

	out, _, err = runCLI(t, cfgPath, "--format", "json", "sync")
	require.NoError(t, err)
	res := decode[map[string]any](t, out)
	assert.Equal(t, float64(2), res.Data["synced"])
	assert.Equal(t, float64(1), res.Data["reconciled"])

	out, _, err = runCLI(t, cfgPath, "queue", "stats")
	require.NoError(t, err)
	assert.Equal(t, "pending=0 processing=0 failed=0 total=0\n", out)

	out, _, err = runCLI(t, cfgPath, "--format", "json", "person", "list")
	require.NoError(t, err)
	serverID := decode[[]personJSON](t, out).Data[0].ServerID
	require.NotNil(t, serverID)

	// A second Entry for the same person is refused by the server.
	_, _, err = runCLI(t, cfgPath, "enqueue", "CreateRecord",
		fmt.Sprintf(`{"personType":"Labour","personRef":%d,"action":"Entry"}`, *serverID))
	require.NoError(t, err)
	_, _, err = runCLI(t, cfgPath, "sync")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, _, err = runCLI(t, cfgPath, "queue", "retry")
	require.NoError(t, err)
	assert.Equal(t, "requeued 1 action(s)\n", out)
}

func TestSyncWithoutServerURL(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	_, _, err := runCLI(t, cfgPath, "sync")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
