package execx

import (
	"context"
	"strings"
	"testing"
)

func TestOSRunner_RunSucceeds(t *testing.T) {
	if err := NewOSRunner().Run(context.Background(), "sh", "-c", "exit 0"); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestOSRunner_RunIncludesStderr(t *testing.T) {
	err := NewOSRunner().Run(context.Background(), "sh", "-c", "echo 'RTNETLINK answers: File exists' >&2; exit 2")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "exit status 2") || !strings.Contains(err.Error(), "File exists") {
		t.Fatalf("expected exit status and stderr in error, got %q", err.Error())
	}
}

func TestOSRunner_RunHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := NewOSRunner().Run(ctx, "sh", "-c", "sleep 5"); err == nil {
		t.Fatal("expected cancelled context to stop the command")
	}
}
