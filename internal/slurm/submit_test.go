package slurm

import (
	"context"
	"errors"
	"testing"
)

func TestExtractJobID(t *testing.T) {
	cases := map[string]string{
		"Submitted batch job 42\n":               "42",
		"Submitted batch job 1234567":            "1234567",
		"sbatch: error: invalid partition\n":     "",
		"Granted job allocation, no id here\n":   "",
		"warning: foo\nSubmitted batch job 99\n": "99",
	}
	for in, want := range cases {
		if got := extractJobID(in); got != want {
			t.Fatalf("extractJobID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSubmitParsesJobID(t *testing.T) {
	c := NewClient()
	var gotName string
	var gotArgs []string
	c.run = func(ctx context.Context, name string, args ...string) (string, error) {
		gotName = name
		gotArgs = args
		return "Submitted batch job 77\n", nil
	}

	id, err := c.Submit(context.Background(), "/tmp/job.sbatch")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id != "77" {
		t.Fatalf("expected job id 77, got %q", id)
	}
	if gotName != "sbatch" || len(gotArgs) != 1 || gotArgs[0] != "/tmp/job.sbatch" {
		t.Fatalf("unexpected invocation %s %v", gotName, gotArgs)
	}
}

func TestSubmitRejectsUnparseableResponse(t *testing.T) {
	c := NewClient()
	c.run = func(ctx context.Context, name string, args ...string) (string, error) {
		return "something unexpected", nil
	}
	if _, err := c.Submit(context.Background(), "job.sbatch"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSubmitPropagatesCommandFailure(t *testing.T) {
	c := NewClient()
	wantErr := errors.New("sbatch: command not found")
	c.run = func(ctx context.Context, name string, args ...string) (string, error) {
		return "", wantErr
	}
	if _, err := c.Submit(context.Background(), "job.sbatch"); !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped command error, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	c := NewClient()
	var gotName string
	var gotArgs []string
	c.run = func(ctx context.Context, name string, args ...string) (string, error) {
		gotName = name
		gotArgs = args
		return "", nil
	}
	if err := c.Cancel(context.Background(), "42"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if gotName != "scancel" || len(gotArgs) != 1 || gotArgs[0] != "42" {
		t.Fatalf("unexpected invocation %s %v", gotName, gotArgs)
	}
	if err := c.Cancel(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty job id")
	}
}
