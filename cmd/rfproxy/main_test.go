package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/rflink/bridge/internal/config"
	"github.com/rflink/bridge/pkg/bridge"
	"github.com/rflink/bridge/pkg/core"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configDir(t *testing.T, body string) string {
	t.Helper()
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	if body != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(body), 0o644))
	}
	return dir
}

func TestRun_BindFailureExitsNonZero(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	logs := t.TempDir()
	dir := configDir(t, fmt.Sprintf(`{"logsDir": %q}`, logs))

	code := run([]string{"--config", dir, "--stubbed", "--bind", ln.Addr().String()})
	assert.Equal(t, exitBind, code)

	entries, err := os.ReadDir(logs)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRun_MalformedConfig(t *testing.T) {
	dir := configDir(t, `{"proxy": `)
	assert.Equal(t, exitConfig, run([]string{"--config", dir}))
}

func TestRun_UnknownFlag(t *testing.T) {
	configDir(t, "")
	assert.Equal(t, exitConfig, run([]string{"--nope"}))
}

func TestRun_Help(t *testing.T) {
	configDir(t, "")
	assert.Equal(t, exitOK, run([]string{"--help"}))
}

func TestRun_InvalidProxyConfig(t *testing.T) {
	dir := configDir(t, fmt.Sprintf(`{"logsDir": %q, "proxy": {"maxClients": -1}}`, t.TempDir()))
	assert.Equal(t, exitConfig, run([]string{"--config", dir, "--stubbed"}))
}

func TestRun_InterruptShutsDownCleanly(t *testing.T) {
	for _, async := range []bool{false, true} {
		t.Run(fmt.Sprintf("async=%v", async), func(t *testing.T) {
			recordings := t.TempDir()
			dir := configDir(t, fmt.Sprintf(
				`{"logsDir": %q, "recording": {"memory": {"outputDir": %q, "compressOutput": false}}}`,
				t.TempDir(), recordings))

			addrs := make(chan net.Addr, 1)
			onListening = func(a net.Addr) { addrs <- a }
			t.Cleanup(func() { onListening = func(net.Addr) {} })

			args := []string{"--config", dir, "--stubbed", "--bind", "127.0.0.1:0", "--record", "memory"}
			if async {
				args = append(args, "--async")
			}
			done := make(chan int, 1)
			go func() { done <- run(args) }()

			var addr net.Addr
			select {
			case addr = <-addrs:
			case code := <-done:
				require.FailNow(t, "run exited early", "exit code %d", code)
			case <-time.After(5 * time.Second):
				require.FailNow(t, "proxy did not start listening")
			}

			client, err := bridge.NewRemote(bridge.RemoteConfiguration{
				ProxyAddress:    addr.String(),
				ConnectTimeout:  time.Second,
				ResponseTimeout: 2 * time.Second,
			})
			require.NoError(t, err)
			_, err = client.ExchangeData(core.NeutralInputs())
			require.NoError(t, err)
			require.NoError(t, client.Close())

			require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))
			select {
			case code := <-done:
				assert.Equal(t, exitOK, code)
			case <-time.After(10 * time.Second):
				require.FailNow(t, "proxy did not stop after SIGINT")
			}

			_, err = net.DialTimeout("tcp", addr.String(), 500*time.Millisecond)
			assert.Error(t, err, "listener still open")

			// The export is written when the recorder wrapping the bridge
			// is closed.
			entries, err := os.ReadDir(recordings)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			data, err := os.ReadFile(filepath.Join(recordings, entries[0].Name()))
			require.NoError(t, err)
			var export struct {
				SampleCount int `json:"sampleCount"`
			}
			require.NoError(t, json.Unmarshal(data, &export))
			assert.Equal(t, 1, export.SampleCount)
		})
	}
}
