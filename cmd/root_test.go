package cmd

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	ncerr "chatrelay/internal/errors"
	"chatrelay/util"
)

func runCapture(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, &out)
	return out.String(), err
}

func TestExecute_Version(t *testing.T) {
	out, err := runCapture(t, "--version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "chatrelay ") {
		t.Errorf("version output %q", out)
	}
}

func TestExecute_Help(t *testing.T) {
	if err := Execute(context.Background(), []string{"--help"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExecute_DryRunDefaults(t *testing.T) {
	out, err := runCapture(t, "--dry-run")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"port: 8080", "capacity: 100", "max_line: 2048", "alias_buffer: 32"} {
		if !strings.Contains(out, want) {
			t.Errorf("dry-run output missing %q:\n%s", want, out)
		}
	}
}

func TestExecute_DryRunInvalid(t *testing.T) {
	_, err := runCapture(t, "-c", "0", "--dry-run")
	var ce *ncerr.ConfigError
	if !ncerr.As(err, &ce) || ce.Field != "capacity" {
		t.Fatalf("want capacity ConfigError, got %v", err)
	}
}

func TestExecute_InvalidFlags(t *testing.T) {
	if _, err := runCapture(t, "--nonexistent-flag"); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestExecute_RejectsPositionalArgs(t *testing.T) {
	if _, err := runCapture(t, "localhost", "--dry-run"); err == nil {
		t.Fatal("expected error for a positional argument")
	}
}

func TestExecute_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte("port: 9000\ncapacity: 5\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		env  string
		args []string
		want string
	}{
		{"file", "", nil, "port: 9000"},
		{"env over file", "9001", nil, "port: 9001"},
		{"flag over env", "9001", []string{"-p", "9002"}, "port: 9002"},
		{"config with equals", "", nil, "capacity: 5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CHATRELAY_PORT", tt.env)
			args := append([]string{"--config=" + path, "--dry-run"}, tt.args...)
			out, err := runCapture(t, args...)
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out)
			}
		})
	}
}

func TestExecute_ConfigFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte("exit_command: bye\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHATRELAY_CONFIG", path)

	out, err := runCapture(t, "--dry-run")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "exit_command: bye") {
		t.Errorf("CHATRELAY_CONFIG not honoured:\n%s", out)
	}
}

func TestExecute_Verbosity(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{nil, "verbose: 1"},
		{[]string{"-vv"}, "verbose: 3"},
		{[]string{"-v", "-q"}, "verbose: 0"},
	}
	for _, tt := range tests {
		out, err := runCapture(t, append(tt.args, "--dry-run")...)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out, tt.want) {
			t.Errorf("%v: output missing %q", tt.args, tt.want)
		}
	}
}

func TestExecute_ServesUntilCancelled(t *testing.T) {
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Execute(ctx, []string{"-q", "-b", "127.0.0.1", "-p", strconv.Itoa(port)})
	}()

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	var conn net.Conn
	for i := 0; i < 100; i++ {
		if conn, err = net.Dial("tcp", addr); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		cancel()
		t.Fatalf("relay never came up: %v", err)
	}
	conn.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Execute returned %v after cancel", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Execute did not return after cancel")
	}
}
