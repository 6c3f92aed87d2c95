package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pario-ai/chargeback/pkg/meter"
	"github.com/pario-ai/chargeback/pkg/models"
)

const chatEvent = `{"eventTime":"2024-01-01T00:00:00Z","apiOperation":"ChatCompletion","appSubscriptionKey":"app-1",` +
	`"request":"{\"messages\":[{\"role\":\"user\",\"content\":\"hi\"}]}",` +
	`"response":"{\"usage\":{\"prompt_tokens\":4,\"completion_tokens\":6}}"}`

func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := `db_path: ` + filepath.Join(dir, "usage.db") + `
log:
  level: error
sinks:
  tracker: true
  metrics: false
  log: false
dead_letter:
  enabled: true
  db_path: ` + filepath.Join(dir, "deadletter.db") + `
  retention_days: 0
`
	path := filepath.Join(dir, "chargeback.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestMeterCommand(t *testing.T) {
	cfgPath, dir := writeTestConfig(t)

	batch := filepath.Join(dir, "batch-1.jsonl")
	if err := os.WriteFile(batch, []byte(chatEvent+"\n"+chatEvent+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "-c", cfgPath, "meter", "--json", batch)
	if err != nil {
		t.Fatalf("meter failed: %v\n%s", err, out)
	}

	var doc outcomeJSON
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if doc.BatchID != "batch-1" {
		t.Errorf("expected batch id from file name, got %q", doc.BatchID)
	}
	if len(doc.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(doc.Records))
	}
	if doc.Records[0].TotalTokens != 10 {
		t.Errorf("expected 10 total tokens, got %d", doc.Records[0].TotalTokens)
	}
}

func TestMeterCommandFailure(t *testing.T) {
	cfgPath, dir := writeTestConfig(t)

	batch := filepath.Join(dir, "bad.jsonl")
	if err := os.WriteFile(batch, []byte(chatEvent+"\nnot-json\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "-c", cfgPath, "meter", batch)
	if err == nil {
		t.Fatal("expected error for failed record")
	}
	if !strings.Contains(out, "1 succeeded, 1 failed") {
		t.Errorf("unexpected summary: %s", out)
	}

	out, err = run(t, "-c", cfgPath, "failures", "list")
	if err != nil {
		t.Fatalf("failures list: %v", err)
	}
	if !strings.Contains(out, "bad") || !strings.Contains(out, "cli") {
		t.Errorf("expected failed record of batch bad from cli, got %s", out)
	}
}

func TestWriteOutcome(t *testing.T) {
	var buf bytes.Buffer
	out := &meter.Outcome{
		Records:  []models.UsageRecord{models.NewUsageRecord(models.TextCompletion, "k", "", false, 1, 2)},
		Failures: []*meter.RecordError{{Index: 3, Err: meter.ErrMalformedResponse}},
		Skipped:  1,
	}
	if err := writeOutcome(&buf, "b", out); err != nil {
		t.Fatal(err)
	}
	s := buf.String()
	if !strings.Contains(s, "TextCompletion") {
		t.Errorf("expected record row, got %s", s)
	}
	if !strings.Contains(s, "FAILED record 3") {
		t.Errorf("expected failure line, got %s", s)
	}
	if !strings.Contains(s, "batch b: 3 records, 1 succeeded, 1 failed, 1 skipped") {
		t.Errorf("unexpected summary: %s", s)
	}
}

func TestFormatFailures(t *testing.T) {
	if got := formatFailures(nil); got != "No failed records found.\n" {
		t.Errorf("unexpected empty output %q", got)
	}
	got := formatFailures([]models.FailedRecord{{ID: 7, Source: "http", BatchID: "b1", Error: strings.Repeat("x", 100)}})
	if !strings.Contains(got, "b1") || !strings.Contains(got, "...") {
		t.Errorf("unexpected output %q", got)
	}
}
