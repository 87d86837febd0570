package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestPlan_NoChanges(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, true, true).Plan(nil)

	if !strings.Contains(buf.String(), "No changes") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestPlan_ListsChangesAndDiff(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true, true)

	p.Plan([]Change{
		{Kind: KindRemove, Unit: "old.service"},
		{Kind: KindCreate, Unit: "a.service", New: "[Service]\nExecStart=/a\n"},
		{Kind: KindUpdate, Unit: "b.service", Old: "x=1\n", New: "x=9\n", Drifted: true},
	})
	out := buf.String()

	for _, want := range []string{
		"  - old.service\n",
		"  + a.service (",
		"  ~ b.service (",
		"b.service was modified outside of unitsync",
		"    -x=1\n",
		"    +x=9\n",
		"    +ExecStart=/a\n",
		"Plan: 1 to create, 1 to update, 1 to remove.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if strings.Contains(out, "\x1b[") {
		t.Error("output contains color codes with colors disabled")
	}
	if strings.Index(out, "old.service") > strings.Index(out, "a.service") {
		t.Error("changes printed out of order")
	}
}

func TestPlan_WithoutDiffs(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, true, false).Plan([]Change{
		{Kind: KindUpdate, Unit: "b.service", Old: "x=1\n", New: "x=9\n"},
	})

	if strings.Contains(buf.String(), "+x=9") {
		t.Errorf("diff printed although disabled:\n%s", buf.String())
	}
}

func TestResults(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []Outcome
		want     []string
	}{
		{
			name: "all succeeded",
			outcomes: []Outcome{
				{Kind: KindCreate, Unit: "a.service"},
			},
			want: []string{"✓ create a.service", "Apply complete: 1 action applied."},
		},
		{
			name: "partial failure",
			outcomes: []Outcome{
				{Kind: KindUpdate, Unit: "a.service", Err: errors.New("restart failed")},
				{Kind: KindCreate, Unit: "b.service"},
			},
			want: []string{
				"✗ update a.service: restart failed",
				"✓ create b.service",
				"Apply incomplete: 1 of 2 actions failed.",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewPrinter(&buf, true, false).Results(tt.outcomes)
			for _, want := range tt.want {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("output missing %q:\n%s", want, buf.String())
				}
			}
		})
	}
}

func TestResults_Empty(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, true, false).Results(nil)
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}
