package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/secfleet/secfleet/internal/job"
	"github.com/secfleet/secfleet/internal/job/lock"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"1", 1, false},
		{"42", 42, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"east", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseID("virtual system", tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseID(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("parseID(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestPrintJob(t *testing.T) {
	e := job.NewEngine(lock.NewManager(), job.DefaultConfig())
	tg := job.NewTaskGraph()
	if err := tg.AddTask(job.Func("Say Hello", nil, func(context.Context) error { return nil })); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	j, err := e.SubmitAndWait(ctx, "greeting", tg)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := printJob(&buf, j); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{`"greeting": SUCCEEDED`, "Say Hello", "SUCCEEDED"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
