package command_test

import (
	"context"
	"os/exec"
	"strings"
	"testing"

	"github.com/MrWong99/meetscribe/pkg/command"
)

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExec_CapturesOutput(t *testing.T) {
	requireSh(t)

	res, err := command.Exec{}.Run(context.Background(), "sh", "-c", "echo out; echo err >&2")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "out" || strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("Result = %+v", res)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
}

func TestExec_ExitCode(t *testing.T) {
	requireSh(t)

	res, err := command.Exec{}.Run(context.Background(), "sh", "-c", "exit 3")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
}

func TestExec_MissingBinary(t *testing.T) {
	res, err := command.Exec{}.Run(context.Background(), "/nonexistent/binary")
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", res.ExitCode)
	}
}

func TestFunc(t *testing.T) {
	var got []string
	r := command.Func(func(_ context.Context, name string, args ...string) (command.Result, error) {
		got = append([]string{name}, args...)
		return command.Result{Stdout: "ok"}, nil
	})
	res, err := r.Run(context.Background(), "ffmpeg", "-i", "in.ogg")
	if err != nil || res.Stdout != "ok" {
		t.Fatalf("Run = %+v, %v", res, err)
	}
	if strings.Join(got, " ") != "ffmpeg -i in.ogg" {
		t.Errorf("args = %v", got)
	}
}
