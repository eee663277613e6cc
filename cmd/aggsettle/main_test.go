package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eth2030/aggsettle/node"
)

const testConfig = `
[l1]
rpc_url = "http://127.0.0.1:8545"
rollup_manager = "0x0000000000000000000000000000000000001000"
settler_key = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

[epoch.time]
duration = "30s"
`

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aggsettle.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, version) || !strings.Contains(out, commit) {
		t.Errorf("version output = %q", out)
	}
}

func TestConfigCommandPrintsResolvedConfig(t *testing.T) {
	path := writeConfig(t, testConfig)
	out, _, err := execute(t, "config", "--config", path)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg, err := node.ParseConfig(strings.NewReader(out), "yaml")
	if err != nil {
		t.Fatalf("printed config does not parse: %v\n%s", err, out)
	}
	if cfg.L1.RPCURL != "http://127.0.0.1:8545" {
		t.Errorf("rpc url = %q", cfg.L1.RPCURL)
	}
	if cfg.Epoch.Time.Duration.String() != "30s" {
		t.Errorf("epoch duration = %s", cfg.Epoch.Time.Duration)
	}
}

func TestConfigCommandRejectsInvalid(t *testing.T) {
	path := writeConfig(t, "[l1]\nrpc_url = \"http://127.0.0.1:8545\"\n")
	_, _, err := execute(t, "config", "--config", path)
	if err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("err = %v, want invalid config", err)
	}
}

func TestRunRejectsBadLogLevel(t *testing.T) {
	path := writeConfig(t, testConfig+"\n[log]\nlevel = \"loud\"\n")
	_, _, err := execute(t, "run", "--config", path)
	if err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(node.LogConfig{Level: "debug", Format: "json"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("hello", "k", 1)
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("json output = %q", buf.String())
	}
	if _, err := newLogger(node.LogConfig{Level: "info", Format: "xml"}, &buf); err == nil {
		t.Error("expected error for unknown format")
	}
}
