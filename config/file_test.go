package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatrelay.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
port: 9000
capacity: 10
idle_timeout: 2m
exit_command: exit
websocket:
  address: ":8081"
reverse_tunnel:
  gateway: relay@gw.example.com:2222
  remote_port: 9001
  reconnect: true
`)
	cfg := Default()
	if err := LoadFile(path, cfg); err != nil {
		t.Fatal(err)
	}

	if cfg.Port != 9000 || cfg.Capacity != 10 {
		t.Errorf("port=%d capacity=%d", cfg.Port, cfg.Capacity)
	}
	if cfg.IdleTimeout != 2*time.Minute || cfg.ExitCommand != "exit" {
		t.Errorf("idle=%v exit=%q", cfg.IdleTimeout, cfg.ExitCommand)
	}
	if cfg.MaxLine != DefaultMaxLine {
		t.Errorf("absent key changed MaxLine to %d", cfg.MaxLine)
	}
	if cfg.WebSocket.Address != ":8081" || cfg.WebSocket.Path != DefaultWebSocketPath {
		t.Errorf("websocket: %+v", cfg.WebSocket)
	}
	if cfg.Reverse.Spec != "relay@gw.example.com:2222" || cfg.Reverse.RemotePort != 9001 || !cfg.Reverse.Reconnect {
		t.Errorf("reverse: %+v", cfg.Reverse)
	}
	if cfg.Reverse.KeepAlive != DefaultKeepAlive {
		t.Errorf("absent nested key changed KeepAlive to %v", cfg.Reverse.KeepAlive)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "prot: 9000\n", "prot"},
		{"wrong type", "capacity: many\n", "many"},
		{"password not allowed", "reverse_tunnel:\n  password: x\n", "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := LoadFile(writeConfig(t, tt.body), Default())
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadFile_EmptyAndMissing(t *testing.T) {
	if err := LoadFile(writeConfig(t, ""), Default()); err != nil {
		t.Errorf("empty file: %v", err)
	}
	if err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), Default()); err == nil {
		t.Error("missing file should fail")
	}
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	src := Default()
	src.Capacity = 7
	src.IdleTimeout = 45 * time.Second
	src.Reverse.Spec = "gw"
	src.Reverse.Password = "secret"

	var buf bytes.Buffer
	if err := WriteYAML(&buf, src); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "secret") {
		t.Error("password must not be rendered")
	}

	dst := Default()
	if err := LoadFile(writeConfig(t, buf.String()), dst); err != nil {
		t.Fatal(err)
	}
	if dst.Capacity != 7 || dst.IdleTimeout != 45*time.Second || dst.Reverse.Spec != "gw" {
		t.Errorf("round trip lost values: %+v", dst)
	}
}
