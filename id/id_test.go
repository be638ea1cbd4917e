package id_test

import (
	"strings"
	"testing"

	"github.com/gameforge/forgeq/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"JobID", id.NewJobID, "job_"},
		{"DLQID", id.NewDLQID, "dlq_"},
		{"WorkerID", id.NewWorkerID, "wkr_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestNew(t *testing.T) {
	i := id.New(id.PrefixJob)
	if i.IsNil() {
		t.Fatal("expected non-nil ID")
	}
	if i.Prefix() != id.PrefixJob {
		t.Errorf("expected prefix %q, got %q", id.PrefixJob, i.Prefix())
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"JobID", id.NewJobID, id.ParseJobID},
		{"DLQID", id.NewDLQID, id.ParseDLQID},
		{"WorkerID", id.NewWorkerID, id.ParseWorkerID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	jobID := id.NewJobID().String()
	if _, err := id.ParseDLQID(jobID); err == nil {
		t.Errorf("ParseDLQID(%q) should reject a job-prefixed ID", jobID)
	}
	if _, err := id.ParseWorkerID(jobID); err == nil {
		t.Errorf("ParseWorkerID(%q) should reject a job-prefixed ID", jobID)
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, s := range []string{"", "not a typeid", "job_!!!"} {
		if _, err := id.Parse(s); err == nil {
			t.Errorf("Parse(%q) should fail", s)
		}
	}
}

func TestNilID(t *testing.T) {
	if !id.Nil.IsNil() {
		t.Fatal("Nil should report IsNil")
	}
	if id.Nil.String() != "" {
		t.Errorf("Nil.String() = %q, want empty", id.Nil.String())
	}
}

func TestTextMarshalRoundTrip(t *testing.T) {
	original := id.NewJobID()

	data, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}

	var parsed id.ID
	if err := parsed.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if parsed.String() != original.String() {
		t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
	}
}
