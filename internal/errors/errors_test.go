package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestCodedErrorFormat(t *testing.T) {
	tests := []struct {
		name string
		err  *CodedError
		want string
	}{
		{
			name: "without cause",
			err:  New(CodeStartupTimeout, "backend did not announce a port within 10000ms"),
			want: "startup.timeout: backend did not announce a port within 10000ms",
		},
		{
			name: "with cause",
			err:  Wrap(CodeLaunchSpawn, "failed to spawn ./backend", fmt.Errorf("exec: not found")),
			want: "launch.spawn: failed to spawn ./backend (exec: not found)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("underlying")
	err := Wrap(CodeStorageOpenFailed, "open database", cause)

	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil error", nil, ""},
		{"coded error", New(CodeBridgeChannelDenied, "denied"), CodeBridgeChannelDenied},
		{"wrapped coded error", fmt.Errorf("outer: %w", New(CodeStartupTimeout, "timeout")), CodeStartupTimeout},
		{"plain error", stderrors.New("plain"), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsCode(t *testing.T) {
	err := LaunchPreflight("/opt/app/backend/main.py")
	if !IsCode(err, CodeLaunchPreflight) {
		t.Error("IsCode should match launch.preflight")
	}
	if IsCode(err, CodeLaunchSpawn) {
		t.Error("IsCode should not match a different code")
	}
}

func TestToCodeAndMessage(t *testing.T) {
	code, msg := ToCodeAndMessage(ChannelDenied("open-devtools"))
	if code != CodeBridgeChannelDenied {
		t.Errorf("code = %q, want %q", code, CodeBridgeChannelDenied)
	}
	if !strings.Contains(msg, "open-devtools") {
		t.Errorf("message should name the channel, got %q", msg)
	}

	code, msg = ToCodeAndMessage(stderrors.New("boom"))
	if code != CodeUnknown || msg != "boom" {
		t.Errorf("plain error: got (%q, %q)", code, msg)
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *CodedError
		wantCode string
	}{
		{"preflight", LaunchPreflight("main.py"), CodeLaunchPreflight},
		{"spawn", LaunchSpawn("./backend", stderrors.New("no such file")), CodeLaunchSpawn},
		{"timeout", StartupTimeout(200), CodeStartupTimeout},
		{"exited", StartupExited(3), CodeStartupExited},
		{"denied", ChannelDenied("x"), CodeBridgeChannelDenied},
		{"rate limited", RateLimited(), CodeBridgeRateLimited},
		{"shutting down", ShuttingDown(), CodeLaunchShutdown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.wantCode)
			}
			if tt.err.Message == "" {
				t.Error("Message should not be empty")
			}
		})
	}
}
