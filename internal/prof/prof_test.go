package prof

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
)

func TestStart_Disabled(t *testing.T) {
	var states []bool
	stop, err := Start(context.Background(), Options{
		Enabled:              false,
		ServerAddress:        "",
		TenantID:             "tenant",
		Tags:                 map[string]string{"k": "v"},
		ProfileMutexFraction: 999,
		BlockProfileRate:     999,
		OnActive:             func(a bool) { states = append(states, a) },
	})
	if err != nil {
		t.Fatalf("disabled should never error, got: %v", err)
	}
	if stop == nil {
		t.Fatal("stop func is nil")
	}
	stop()
	stop()

	if len(states) != 1 || states[0] {
		t.Fatalf("OnActive calls = %v, want [false]", states)
	}
}

func TestStart_Enabled_InvalidServerAddress(t *testing.T) {
	for _, addr := range []string{"", "not a url", "pyroscope:4040"} {
		t.Run(addr, func(t *testing.T) {
			active := true
			stop, err := Start(context.Background(), Options{
				Enabled:       true,
				ServerAddress: addr,
				AppName:       "test",
				OnActive:      func(a bool) { active = a },
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), "invalid server address") {
				t.Fatalf("error = %q, want 'invalid server address'", err.Error())
			}
			if stop == nil {
				t.Fatal("stop must be non-nil even on error")
			}
			stop()
			stop()
			if active {
				t.Fatal("profiling must not be reported active after an error")
			}
		})
	}
}

func TestStart_Enabled_InvalidAddress_LogsError(t *testing.T) {
	var buf bytes.Buffer
	L, err := log.New(log.Options{App: "test", JSON: true, Writer: &buf})
	if err != nil {
		t.Fatalf("log.New: %v", err)
	}
	ctx := log.WithContext(context.Background(), L)

	_, _ = Start(ctx, Options{Enabled: true})

	if !strings.Contains(buf.String(), "pyroscope options") {
		t.Fatalf("log output = %q, want pyroscope options error", buf.String())
	}
}

func TestStart_Enabled_UnreachableServer(t *testing.T) {
	// pyroscope uploads lazily, Start may succeed against a dead server
	var states []bool
	stop, err := Start(context.Background(), Options{
		Enabled:       true,
		ServerAddress: "http://127.0.0.1:1",
		AppName:       "test",
		OnActive:      func(a bool) { states = append(states, a) },
	})
	if stop == nil {
		t.Fatal("stop func should always be non-nil")
	}
	stop()
	stop()

	if err == nil && (len(states) != 3 || !states[1] || states[2]) {
		t.Fatalf("OnActive calls = %v, want [false true false]", states)
	}
}

func TestPyroLogger(t *testing.T) {
	var buf bytes.Buffer
	L, err := log.New(log.Options{App: "test", JSON: true, Writer: &buf})
	if err != nil {
		t.Fatalf("log.New: %v", err)
	}
	p := pyroLogger{ctx: context.Background(), L: L}

	p.Infof("uploading %d profiles", 3)
	p.Debugf("noisy %s", "detail")
	p.Errorf("upload failed: %s", "timeout")

	out := buf.String()
	if !strings.Contains(out, "uploading 3 profiles") {
		t.Errorf("missing info line: %q", out)
	}
	if strings.Contains(out, "noisy detail") {
		t.Errorf("debug output should be dropped: %q", out)
	}
	if !strings.Contains(out, "upload failed: timeout") {
		t.Errorf("missing error line: %q", out)
	}
}
