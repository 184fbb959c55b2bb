package prof

import (
	"context"
	"strings"
	"testing"

	"github.com/coursekit/admission/internal/log"
)

func TestStart_Disabled(t *testing.T) {
	stop, err := Start(context.Background(), Options{Enabled: false})
	if err != nil {
		t.Fatalf("Start disabled: %v", err)
	}
	if stop == nil {
		t.Fatal("stop func is nil")
	}
	stop()
	stop() // safe to call repeatedly
}

func TestStart_Disabled_IgnoresOptions(t *testing.T) {
	stop, err := Start(context.Background(), Options{
		Enabled:              false,
		ServerAddress:        "",
		TenantID:             "tenant",
		Tags:                 map[string]string{"k": "v"},
		ProfileMutexFraction: 999,
		BlockProfileRate:     999,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stop()
}

func TestStart_Enabled_EmptyServerAddress(t *testing.T) {
	stop, err := Start(context.Background(), Options{
		Enabled: true,
		AppName: "admissiond-test",
	})
	if err == nil {
		t.Fatal("expected error for empty server address")
	}
	if !strings.Contains(err.Error(), "invalid profiling server address") {
		t.Fatalf("error = %q", err.Error())
	}
	// stop must be usable even on the error path
	if stop == nil {
		t.Fatal("stop func should be non-nil on error")
	}
	stop()
	stop()
}

func TestStart_Enabled_UnreachableServer(t *testing.T) {
	// pyroscope connects lazily in some versions and errors in others,
	// so only the stop contract is asserted here.
	stop, _ := Start(context.Background(), Options{
		Enabled:       true,
		ServerAddress: "http://localhost:0/nonexistent",
		AppName:       "admissiond-test",
	})
	if stop == nil {
		t.Fatal("stop func should always be non-nil")
	}
	stop()
}

func TestStart_UsesContextLogger(t *testing.T) {
	ctx := log.WithContext(context.Background(), log.Nop())

	stop, err := Start(ctx, Options{Enabled: false})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stop()
}
