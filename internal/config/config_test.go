package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"simulator": { "address": "192.168.1.20:18083", "poolSize": 3 }
	}`)
	require.NoError(t, Load(dir))

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	sim, err := GetSimulator()
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.20:18083", sim.Address)
	assert.Equal(t, 3, sim.PoolSize)
	assert.Equal(t, 50*time.Millisecond, sim.ConnectTimeout)
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./rflogs", viper.GetString("logsDir"))

	sim, err := GetSimulator()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:18083", sim.Address)
	assert.Equal(t, 50*time.Millisecond, sim.ConnectTimeout)
	assert.Equal(t, time.Second, sim.ResponseTimeout)
	assert.Equal(t, 1, sim.PoolSize)
	assert.Equal(t, time.Second, sim.AcquireTimeout)
	assert.True(t, sim.Prefetch)
	assert.False(t, sim.ReuseConnections)

	p, err := GetProxy()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", p.Bind)
	assert.Equal(t, 5*time.Second, p.ShutdownTimeout)
	assert.Zero(t, p.MaxClients)
	assert.Equal(t, 10*time.Second, p.StatusInterval)

	r, err := GetRecording()
	require.NoError(t, err)
	assert.False(t, r.Enabled())
	assert.Equal(t, 4096, r.QueueSize)
	assert.Equal(t, "./recordings", r.Memory.OutputDir)
	assert.True(t, r.Memory.CompressOutput)
	assert.Equal(t, time.Minute, r.SQLite.DumpInterval)
	assert.Equal(t, "flights", r.Influx.Bucket)
	assert.Equal(t, "http://localhost:8086", r.Influx.URL())
	assert.Empty(t, r.Upload.URL)

	g, err := GetGraylog()
	require.NoError(t, err)
	assert.False(t, g.Enabled)
	assert.Equal(t, "localhost:12201", g.Address)

	o, err := GetOTel()
	require.NoError(t, err)
	assert.False(t, o.Enabled)
	assert.Equal(t, "rfproxy", o.ServiceName)
	assert.Equal(t, 5*time.Second, o.BatchTimeout)
	assert.True(t, o.Insecure)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(t.TempDir()))
	sim, err := GetSimulator()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:18083", sim.Address)
}

func TestLoad_MalformedFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load(writeConfig(t, `{"simulator": `))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestEnvironmentOverride(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("RFPROXY_PROXY_BIND", "127.0.0.1:9999")
	t.Setenv("RFPROXY_SIMULATOR_POOLSIZE", "4")

	require.NoError(t, Load(writeConfig(t, `{"proxy": {"bind": "0.0.0.0:1234"}}`)))

	p, err := GetProxy()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", p.Bind)

	sim, err := GetSimulator()
	require.NoError(t, err)
	assert.Equal(t, 4, sim.PoolSize)
}

func TestSectionValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		get  func() error
	}{
		{"empty pool", `{"simulator": {"poolSize": 0}}`, func() error { _, err := GetSimulator(); return err }},
		{"empty address", `{"simulator": {"address": ""}}`, func() error { _, err := GetSimulator(); return err }},
		{"empty bind", `{"proxy": {"bind": ""}}`, func() error { _, err := GetProxy(); return err }},
		{"negative clients", `{"proxy": {"maxClients": -1}}`, func() error { _, err := GetProxy(); return err }},
		{"unknown backend", `{"recording": {"backend": "s3"}}`, func() error { _, err := GetRecording(); return err }},
		{"empty queue", `{"recording": {"backend": "memory", "queueSize": 0}}`, func() error { _, err := GetRecording(); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(viper.Reset)
			require.NoError(t, Load(writeConfig(t, tt.body)))
			assert.Error(t, tt.get())
		})
	}
}

func TestRecordingOverride(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"recording": {
			"backend": "sqlite",
			"memory": { "outputDir": "/tmp/out", "compressOutput": false },
			"sqlite": { "dumpInterval": "10m" },
			"origin": { "longitude": 8.5, "latitude": 47.25 }
		}
	}`)))

	r, err := GetRecording()
	require.NoError(t, err)
	assert.True(t, r.Enabled())
	assert.Equal(t, "sqlite", r.Backend)
	assert.Equal(t, "/tmp/out", r.Memory.OutputDir)
	assert.False(t, r.Memory.CompressOutput)
	assert.Equal(t, 10*time.Minute, r.SQLite.DumpInterval)
	assert.Equal(t, 8.5, r.Origin.Longitude)
	assert.Equal(t, 47.25, r.Origin.Latitude)
}

func TestSimulatorBridgeConversion(t *testing.T) {
	s := Simulator{
		Address:          "10.0.0.2:18083",
		ConnectTimeout:   time.Second,
		ResponseTimeout:  2 * time.Second,
		PoolSize:         2,
		AcquireTimeout:   time.Second,
		Prefetch:         true,
		ReuseConnections: true,
	}
	b := s.Bridge()
	require.NoError(t, b.Validate())
	assert.Equal(t, "10.0.0.2:18083", b.SimulatorAddress)
	assert.Equal(t, 2, b.PoolSize)
	assert.True(t, b.ReuseConnections)
}

func TestDatabaseDSN(t *testing.T) {
	d := Database{Host: "db", Port: "5433", Username: "u", Password: "p", Database: "flights"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=flights sslmode=disable", d.DSN())
}

func TestGetters(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	viper.Set("testInt", 42)
	viper.Set("testBool", true)
	assert.Equal(t, "testValue", GetString("testKey"))
	assert.Equal(t, 42, GetInt("testInt"))
	assert.True(t, GetBool("testBool"))
}

func TestBindFlag_OverridesWhenSet(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(t.TempDir()))

	fs := pflag.NewFlagSet("rfproxy", pflag.ContinueOnError)
	fs.String("bind", "0.0.0.0:8080", "")
	fs.String("record", "none", "")
	require.NoError(t, BindFlag("proxy.bind", fs.Lookup("bind")))
	require.NoError(t, BindFlag("recording.backend", fs.Lookup("record")))
	require.NoError(t, fs.Parse([]string{"--bind", "127.0.0.1:9090"}))

	p, err := GetProxy()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", p.Bind)

	r, err := GetRecording()
	require.NoError(t, err)
	assert.Equal(t, "none", r.Backend)

	assert.Error(t, BindFlag("proxy.bind", fs.Lookup("missing")))
}
