package observability

import (
	"strings"

	"github.com/smallbiznis/agencyops/internal/config"
	"github.com/spf13/viper"
)

// Config is the logging, tracing and metrics section of the runtime
// configuration. Values come from the environment with the application
// config as fallback.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	v := viper.New()
	v.SetDefault("deployment_env", cfg.Environment)
	v.SetDefault("service_version", cfg.AppVersion)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("otel_exporter_otlp_endpoint", cfg.OTLPEndpoint)
	v.SetDefault("otel_exporter_otlp_protocol", "grpc")
	v.SetDefault("otel_sampling_ratio", 0.1)
	v.SetDefault("otel_enabled", true)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "agencyops"
	}

	protocol := trimmed(v, "otel_exporter_otlp_protocol")
	if traces := trimmed(v, "otel_exporter_otlp_traces_protocol"); traces != "" {
		protocol = traces
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          trimmed(v, "deployment_env"),
		Version:              trimmed(v, "service_version"),
		LogLevel:             strings.ToLower(trimmed(v, "log_level")),
		LogFormat:            strings.ToLower(trimmed(v, "log_format")),
		OtelEnabled:          v.GetBool("otel_enabled"),
		OtelExporterEndpoint: trimmed(v, "otel_exporter_otlp_endpoint"),
		OtelExporterProtocol: strings.ToLower(protocol),
		OtelSamplingRatio:    v.GetFloat64("otel_sampling_ratio"),
	}
}

// Debug reports whether verbose logging and gin debug mode apply.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func trimmed(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}
