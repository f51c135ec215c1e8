package observability

import (
	"testing"

	"github.com/smallbiznis/schoolledger/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_DefaultsServiceName(t *testing.T) {
	cfg := LoadConfig(config.Config{Environment: "production", Telemetry: config.TelemetryConfig{LogLevel: "info"}})
	assert.Equal(t, defaultServiceName, cfg.ServiceName)
	assert.False(t, cfg.Debug())
	assert.False(t, cfg.Logger().IncludeStackOnError)
}

func TestConfig_DebugOutsideProduction(t *testing.T) {
	cfg := LoadConfig(config.Config{AppName: "ledger", Environment: "Local"})
	assert.True(t, cfg.Debug())

	cfg = LoadConfig(config.Config{Environment: "production", Telemetry: config.TelemetryConfig{LogLevel: "debug"}})
	assert.True(t, cfg.Debug())
}

func TestConfig_ExportersShareEndpoint(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppName:    "ledger",
		AppVersion: "1.2.0",
		Telemetry: config.TelemetryConfig{
			OtelEnabled:   true,
			OTLPEndpoint:  "collector:4317",
			OTLPProtocol:  "grpc",
			SamplingRatio: 0.5,
		},
	})

	tr := cfg.Tracing()
	m := cfg.Metrics()
	assert.Equal(t, "collector:4317", tr.ExporterEndpoint)
	assert.Equal(t, tr.ExporterEndpoint, m.ExporterEndpoint)
	assert.Equal(t, "1.2.0", tr.ServiceVersion)
	assert.Equal(t, 0.5, tr.SamplingRatio)
	assert.True(t, m.Enabled)
}
