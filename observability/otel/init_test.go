package otel

import (
	"context"
	"testing"
	"time"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = secret ,broken, =empty,tenant=fixedlend")
	if len(headers) != 2 {
		t.Fatalf("expected 2 headers, got %v", headers)
	}
	if headers["api-key"] != "secret" || headers["tenant"] != "fixedlend" {
		t.Fatalf("unexpected headers %v", headers)
	}
}

func TestFromEnv(t *testing.T) {
	env := map[string]string{
		"OTEL_EXPORTER_OTLP_ENDPOINT": "collector:4318",
		"OTEL_EXPORTER_OTLP_INSECURE": "false",
		"OTEL_EXPORTER_OTLP_HEADERS":  "a=b",
		"OTEL_METRIC_EXPORT_INTERVAL": "5000",
	}
	cfg := FromEnv("lendingd", "dev", func(key string) string { return env[key] })
	if cfg.Endpoint != "collector:4318" || cfg.Insecure || !cfg.Traces || !cfg.Metrics {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Headers["a"] != "b" {
		t.Fatalf("headers not parsed: %v", cfg.Headers)
	}
	if cfg.MetricInterval != 5*time.Second {
		t.Fatalf("metric interval %s", cfg.MetricInterval)
	}

	disabled := FromEnv("lendingd", "", func(string) string { return "" })
	if disabled.Traces || disabled.Metrics || !disabled.Insecure || disabled.MetricInterval != 0 {
		t.Fatalf("exporting without an endpoint: %+v", disabled)
	}
}

func TestInitWithoutSignals(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatal("expected service name error")
	}
	shutdown, err := Init(context.Background(), Config{ServiceName: "lendingd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
