package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"creditrail/observability/logging"
)

func TestStartupLogRedactsAuthorityAddress(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{}))

	authority := vaultAddress("liquidity").String()
	logger.Info("creditraild ready",
		slog.String("component", "daemon"),
		slog.String("pool", "rusd-main"),
		logging.MaskField("authority", authority))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log payload: %v", err)
	}

	if logging.IsAllowlisted("authority") {
		t.Fatalf("authority should not be allowlisted for logging: %v", logging.RedactionAllowlist())
	}

	if bytes.Contains(buf.Bytes(), []byte(authority)) {
		t.Fatalf("log output leaked authority address: %s", buf.Bytes())
	}

	value, ok := entry["authority"].(string)
	if !ok {
		t.Fatalf("expected string authority attribute, got %T", entry["authority"])
	}
	if value != logging.RedactedValue {
		t.Fatalf("expected redacted authority, got %q", value)
	}
	if entry["pool"] != "rusd-main" {
		t.Fatalf("allowlisted pool attribute should pass through, got %v", entry["pool"])
	}
}
