package subprocess_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/meetscribe/pkg/command"
	"github.com/MrWong99/meetscribe/pkg/provider/transcribe/subprocess"
)

const report = `{"language": "en", "segments": [
  {"start": 0.0, "end": 1.5, "text": " Let's begin.", "words": [{"start": 0.0, "end": 0.4, "word": "Let's"}]},
  {"start": 1.5, "end": 3.0, "text": " Agenda first."}
]}`

func TestTranscribe_Stdout(t *testing.T) {
	t.Parallel()

	var gotName string
	var gotArgs []string
	runner := command.Func(func(_ context.Context, name string, args ...string) (command.Result, error) {
		gotName, gotArgs = name, args
		data, err := os.ReadFile(args[1])
		if err != nil || string(data) != "RIFFwav" {
			t.Errorf("audio file = %q, %v", data, err)
		}
		return command.Result{Stdout: "loading model...\n" + report}, nil
	})

	p, err := subprocess.New("python3", []string{"transcribe.py", subprocess.AudioPlaceholder, "8"},
		subprocess.WithRunner(runner), subprocess.WithTempDir(t.TempDir()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Transcribe(context.Background(), []byte("RIFFwav"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if gotName != "python3" || len(gotArgs) != 3 || gotArgs[0] != "transcribe.py" || gotArgs[2] != "8" {
		t.Errorf("command = %s %v", gotName, gotArgs)
	}
	if filepath.Base(gotArgs[1]) != "audio.wav" {
		t.Errorf("audio arg = %q, want .../audio.wav", gotArgs[1])
	}
	if res.Language != "en" || len(res.Segments) != 2 {
		t.Fatalf("Result = %+v", res)
	}
	if res.Text() != "Let's begin. Agenda first." {
		t.Errorf("Text = %q", res.Text())
	}
}

func TestTranscribe_SidecarFile(t *testing.T) {
	t.Parallel()

	runner := command.Func(func(_ context.Context, _ string, args ...string) (command.Result, error) {
		audio := args[len(args)-1]
		stem := strings.TrimSuffix(audio, filepath.Ext(audio))
		if err := os.WriteFile(stem+".json", []byte(report), 0o600); err != nil {
			t.Errorf("write sidecar: %v", err)
		}
		return command.Result{Stdout: "done: " + stem + ".txt / .srt / .vtt / .json"}, nil
	})

	p, _ := subprocess.New("transcribe.py", nil, subprocess.WithRunner(runner), subprocess.WithTempDir(t.TempDir()))
	res, err := p.Transcribe(context.Background(), []byte("RIFF"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(res.Segments) != 2 {
		t.Errorf("len(Segments) = %d, want 2", len(res.Segments))
	}
}

func TestTranscribe_RemovesTempDir(t *testing.T) {
	t.Parallel()

	parent := t.TempDir()
	runner := command.Func(func(context.Context, string, ...string) (command.Result, error) {
		return command.Result{Stdout: report}, nil
	})
	p, _ := subprocess.New("x", nil, subprocess.WithRunner(runner), subprocess.WithTempDir(parent))
	if _, err := p.Transcribe(context.Background(), []byte("RIFF")); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	entries, _ := os.ReadDir(parent)
	if len(entries) != 0 {
		t.Errorf("temp dir not cleaned up: %d entries left", len(entries))
	}
}

func TestTranscribe_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		run  command.Func
	}{
		{"non-zero exit", func(context.Context, string, ...string) (command.Result, error) {
			return command.Result{Stderr: "CUDA out of memory", ExitCode: 1}, errors.New("exit status 1")
		}},
		{"no report", func(context.Context, string, ...string) (command.Result, error) {
			return command.Result{Stdout: "done"}, nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, _ := subprocess.New("x", nil, subprocess.WithRunner(tt.run), subprocess.WithTempDir(t.TempDir()))
			if _, err := p.Transcribe(context.Background(), []byte("RIFF")); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestNew_EmptyProgram(t *testing.T) {
	t.Parallel()

	if _, err := subprocess.New("", nil); err == nil {
		t.Fatal("expected error for empty program")
	}
}
