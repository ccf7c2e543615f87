package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"queryforge/internal/search"
	"queryforge/internal/spec"
)

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"build", "validate"} {
		if !names[want] {
			t.Fatalf("expected subcommand %q to be registered", want)
		}
	}
}

func TestValidatePrintsParsedTasks(t *testing.T) {
	logger = zap.NewNop()
	path := filepath.Join(t.TempDir(), "queries.yaml")
	doc := `queries:
  - query_id: q1
    level: L4
    scenario: 复核统计数据
    search_query: 统计公报 2024
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	configPath = path

	output := captureOutput(t, func() {
		if err := runValidate(&cobra.Command{}, nil); err != nil {
			t.Fatalf("runValidate returned error: %v", err)
		}
	})

	if !strings.Contains(output, "q1") || !strings.Contains(output, "L4/positive") {
		t.Fatalf("expected parsed task summary, got: %s", output)
	}
	if !strings.Contains(output, "1 tasks OK") {
		t.Fatalf("expected task count, got: %s", output)
	}
}

func TestValidateWithInverseExpansion(t *testing.T) {
	logger = zap.NewNop()
	path := filepath.Join(t.TempDir(), "queries.yaml")
	doc := `queries:
  - query_id: q1
    level: L4
    scenario: 复核统计数据
    search_query: 统计公报 2024
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	configPath = path
	withInverse = true
	defer func() { withInverse = false }()

	output := captureOutput(t, func() {
		if err := runValidate(&cobra.Command{}, nil); err != nil {
			t.Fatalf("runValidate returned error: %v", err)
		}
	})

	if !strings.Contains(output, "q1-inverse") || !strings.Contains(output, "L4/inverse") {
		t.Fatalf("expected inverse variant in output, got: %s", output)
	}
	if !strings.Contains(output, "2 tasks OK") {
		t.Fatalf("expected two tasks, got: %s", output)
	}
}

func TestFilterTasksByIDAndLevel(t *testing.T) {
	specs := []*spec.Spec{
		{QueryID: "q1", Level: "L3"},
		{QueryID: "q2", Level: "L4"},
		{QueryID: "q3", Level: "L4"},
	}

	onlyIDs = []string{"q2", "q3"}
	onlyLevels = []string{"l4"}
	defer func() { onlyIDs, onlyLevels = nil, nil }()

	out, err := filterTasks(specs)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0].QueryID != "q2" || out[1].QueryID != "q3" {
		t.Fatalf("unexpected filter result: %+v", out)
	}
}

func TestValidateRejectsBrokenConfig(t *testing.T) {
	logger = zap.NewNop()
	path := filepath.Join(t.TempDir(), "queries.yaml")
	doc := `queries:
  - query_id: q1
    level: L9
    scenario: bad
    search_query: x
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	configPath = path

	if err := runValidate(&cobra.Command{}, nil); err == nil {
		t.Fatal("expected validation error for unsupported level")
	}
}

type recordingBackend struct {
	queries []string
	markets []string
}

func (r *recordingBackend) Name() string { return "recording" }

func (r *recordingBackend) Search(_ context.Context, query string, opts search.Options) ([]search.Result, error) {
	r.queries = append(r.queries, query)
	r.markets = append(r.markets, opts.Market)
	return []search.Result{{Title: "官方统计", URL: "https://stats.example.gov.cn/report.pdf"}}, nil
}

func TestNewRefineFuncQueriesSearchChain(t *testing.T) {
	backend := &recordingBackend{}
	refine := newRefineFunc(search.NewClient(backend, zap.NewNop()), "cn", 5)

	results, err := refine(context.Background(), "site:stats.example.gov.cn 统计公报")
	if err != nil {
		t.Fatalf("refine returned error: %v", err)
	}
	if len(results) != 1 || results[0].URL != "https://stats.example.gov.cn/report.pdf" {
		t.Fatalf("unexpected refine results: %+v", results)
	}
	if len(backend.queries) != 1 || backend.queries[0] != "site:stats.example.gov.cn 统计公报" {
		t.Fatalf("refinement query not forwarded to the backend: %v", backend.queries)
	}
	if backend.markets[0] != "cn" {
		t.Fatalf("market not forwarded, got %q", backend.markets[0])
	}
}

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()
	w.Close()
	data, _ := io.ReadAll(r)
	return string(data)
}
