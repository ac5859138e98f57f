package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/sitemapper/cli/config"
	"github.com/justapithecus/sitemapper/cli/reader"
	"github.com/justapithecus/sitemapper/runtime"
)

func TestReadOnlyFlags_IncludesTUI(t *testing.T) {
	hasTUI := false
	for _, f := range ReadOnlyFlags() {
		if f.Names()[0] == "tui" {
			hasTUI = true
			break
		}
	}
	if !hasTUI {
		t.Error("ReadOnlyFlags should include --tui flag for explicit error handling")
	}
}

func TestIsStderrTTY(_ *testing.T) {
	// Actual TTY behavior depends on runtime environment.
	_ = isStderrTTY()
}

func TestInputFormat(t *testing.T) {
	tests := []struct {
		path, format, want string
		wantErr            bool
	}{
		{"batch.jsonl", "", inputJSONL, false},
		{"batch.NDJSON", "", inputJSONL, false},
		{"batch.bin", "", inputFrames, false},
		{"-", "", inputFrames, false},
		{"batch.jsonl", inputFrames, inputFrames, false},
		{"batch.bin", "csv", "", true},
	}
	for _, tt := range tests {
		got, err := inputFormat(tt.path, tt.format)
		if (err != nil) != tt.wantErr {
			t.Errorf("inputFormat(%q, %q) error = %v, wantErr %v", tt.path, tt.format, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("inputFormat(%q, %q) = %q, want %q", tt.path, tt.format, got, tt.want)
		}
	}
}

func TestReadJSONL_SkipsBlankLines(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	in := strings.NewReader("{\"a\":1}\n\n  \n{\"b\":2}\n")

	got, err := readJSONL(in, "shard-0001", at)
	if err != nil {
		t.Fatalf("readJSONL failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[1].SequenceNumber != "2" || got[1].PartitionKey != "shard-0001" || string(got[1].Data) != `{"b":2}` {
		t.Errorf("unexpected record: %+v", got[1])
	}
	if !got[0].ApproximateArrival.Equal(at) {
		t.Errorf("arrival not stamped: %v", got[0].ApproximateArrival)
	}
}

// testApp runs the CLI without exiting the process.
func testApp(t *testing.T, args ...string) error {
	t.Helper()
	app := &cli.App{
		Name:           "sitemapper",
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			IngestCommand(),
			RepairCommand(),
			InspectCommand(),
			StatsCommand(),
			PackCommand(),
			VersionCommand("test"),
		},
	}
	return app.RunContext(t.Context(), append([]string{"sitemapper"}, args...))
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return -1
}

type workspace struct {
	dir      string
	backends []string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "blobs"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return &workspace{
		dir: dir,
		backends: []string{
			"--store", config.StoreBadger, "--store-path", filepath.Join(dir, "db"),
			"--blob", config.BlobFS, "--blob-path", filepath.Join(dir, "blobs"),
		},
	}
}

func (w *workspace) path(name string) string { return filepath.Join(w.dir, name) }

func (w *workspace) writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := w.path(name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func (w *workspace) args(cmd ...string) []string {
	return append(cmd, w.backends...)
}

func (w *workspace) config() *config.Config {
	cfg := &config.Config{
		Store: config.StoreConfig{Backend: config.StoreBadger, Path: w.path("db")},
		Blob:  config.BlobConfig{Backend: config.BlobFS, Path: w.path("blobs")},
	}
	cfg.Defaults()
	return cfg
}

const widgetsBatch = `{"type":"widgets","customId":"a","sitemapItem":{"loc":"https://example.com/widgets/a"}}
{"type":"widgets","customId":"b","sitemapItem":{"loc":"https://example.com/widgets/b"}}
{"type":"gadgets","customId":"g","sitemapItem":{"loc":"https://example.com/gadgets/g"}}
`

func TestIngest_PackedBatchEndToEnd(t *testing.T) {
	w := newWorkspace(t)
	jsonl := w.writeFile(t, "batch.jsonl", widgetsBatch)
	frames := w.path("batch.frames")

	if err := testApp(t, "pack", "--input", jsonl, "--output", frames); err != nil {
		t.Fatalf("pack failed: %v", err)
	}

	err := testApp(t, w.args("ingest",
		"--input", frames,
		"--shard", "shard-0001",
		"--report", w.path("report.json"),
		"--quiet", "--silent")...)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	report, err := readReport(w.path("report.json"))
	if err != nil {
		t.Fatalf("readReport failed: %v", err)
	}
	if report.Outcome != runtime.OutcomeSuccess || report.ExitCode != 0 {
		t.Fatalf("unexpected outcome: %s (%s)", report.Outcome, report.Message)
	}
	if report.Records != 3 || len(report.Types) != 2 || report.Types[0].Type != "gadgets" {
		t.Errorf("unexpected report: records=%d types=%d", report.Records, len(report.Types))
	}

	// State survives the invocation.
	ctx := t.Context()
	b, err := openReadBackends(ctx, w.config(), nil)
	if err != nil {
		t.Fatalf("openReadBackends failed: %v", err)
	}
	defer func() { _ = b.Close() }()
	rd := reader.NewStoreReader(b.store, b.blobs, "sitemaps")

	files, err := rd.ListFiles(ctx, "widgets")
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if len(files) != 1 || files[0].Status != "written" || files[0].CountWritten != 2 {
		t.Fatalf("unexpected files: %+v", files)
	}
	view, err := rd.InspectFile(ctx, "widgets", files[0].FileName)
	if err != nil {
		t.Fatalf("InspectFile failed: %v", err)
	}
	if !view.BlobPresent || view.BlobItems != 2 {
		t.Errorf("unexpected file view: %+v", view)
	}
}

func TestIngest_InvalidConfigIsPrecondition(t *testing.T) {
	w := newWorkspace(t)
	jsonl := w.writeFile(t, "batch.jsonl", widgetsBatch)

	err := testApp(t, "ingest", "--input", jsonl, "--shard", "s", "--store", config.StoreBadger, "--quiet", "--silent")
	if code := exitCode(err); code != runtime.ExitCodePrecondition {
		t.Errorf("expected exit code %d, got %d (%v)", runtime.ExitCodePrecondition, code, err)
	}
}

func TestIngest_MissingInputIsPrecondition(t *testing.T) {
	w := newWorkspace(t)
	err := testApp(t, w.args("ingest", "--input", w.path("missing.jsonl"), "--shard", "s", "--quiet", "--silent")...)
	if code := exitCode(err); code != runtime.ExitCodePrecondition {
		t.Errorf("expected exit code %d, got %d (%v)", runtime.ExitCodePrecondition, code, err)
	}
}

func TestIngest_TUIRejected(t *testing.T) {
	w := newWorkspace(t)
	jsonl := w.writeFile(t, "batch.jsonl", widgetsBatch)
	err := testApp(t, w.args("ingest", "--input", jsonl, "--shard", "s", "--tui")...)
	if code := exitCode(err); code != 1 {
		t.Errorf("expected exit code 1, got %d (%v)", code, err)
	}
}

func TestRepair_AfterIngest(t *testing.T) {
	w := newWorkspace(t)
	jsonl := w.writeFile(t, "batch.jsonl", widgetsBatch)
	if err := testApp(t, w.args("ingest", "--input", jsonl, "--shard", "shard-0001", "--quiet", "--silent")...); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	err := testApp(t, w.args("repair",
		"--type", "widgets",
		"--all",
		"--id-pattern", `/widgets/([^/]+)$`,
		"--dry-run", "--silent")...)
	if err != nil {
		t.Errorf("repair failed: %v", err)
	}
}

func TestRepair_FlagValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"neither file nor all", []string{"repair", "--type", "widgets"}},
		{"both file and all", []string{"repair", "--type", "widgets", "--all", "--file", "widgets-00001.xml"}},
		{"file with two types", []string{"repair", "--type", "widgets", "--type", "gadgets", "--file", "widgets-00001.xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := testApp(t, tt.args...)
			if code := exitCode(err); code != runtime.ExitCodePrecondition {
				t.Errorf("expected exit code %d, got %d (%v)", runtime.ExitCodePrecondition, code, err)
			}
		})
	}
}

func TestRepair_NoPatternIsPrecondition(t *testing.T) {
	w := newWorkspace(t)
	err := testApp(t, w.args("repair", "--type", "widgets", "--all", "--silent")...)
	if code := exitCode(err); code != runtime.ExitCodePrecondition {
		t.Errorf("expected exit code %d, got %d (%v)", runtime.ExitCodePrecondition, code, err)
	}
}

func stubReader(t *testing.T) {
	t.Helper()
	prev := newReader
	newReader = func(context.Context, *cli.Context) (reader.Reader, func() error, error) {
		return reader.NewStubReader(), func() error { return nil }, nil
	}
	t.Cleanup(func() { newReader = prev })
}

func TestInspect_StubReader(t *testing.T) {
	stubReader(t)
	for _, args := range [][]string{
		{"inspect", "shard", "--type", "widgets", "--shard", "shard-0001", "--format", "json"},
		{"inspect", "file", "--type", "widgets", "--format", "yaml", "widgets-00001.xml"},
		{"inspect", "files", "--type", "widgets", "--format", "table"},
		{"inspect", "item", "--type", "widgets", "a"},
	} {
		if err := testApp(t, args...); err != nil {
			t.Errorf("%v failed: %v", args, err)
		}
	}
}

func TestInspect_MissingArgument(t *testing.T) {
	stubReader(t)
	err := testApp(t, "inspect", "item", "--type", "widgets")
	if code := exitCode(err); code != 1 {
		t.Errorf("expected exit code 1, got %d (%v)", code, err)
	}
}

func TestInspect_NotFound(t *testing.T) {
	w := newWorkspace(t)
	err := testApp(t, w.args("inspect", "file", "--type", "widgets", "widgets-00404.xml")...)
	if code := exitCode(err); code != 1 {
		t.Errorf("expected exit code 1, got %d (%v)", code, err)
	}
}

func TestStatsReport(t *testing.T) {
	w := newWorkspace(t)
	report := runtime.BuildReport(&runtime.InvocationResult{InvocationID: "inv-1", ShardID: "shard-0001", Records: 3}, nil)
	if err := runtime.WriteReport(report, w.path("report.json")); err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}

	if err := testApp(t, "stats", "report", "--format", "json", w.path("report.json")); err != nil {
		t.Errorf("stats report failed: %v", err)
	}
	if code := exitCode(testApp(t, "stats", "report", w.path("missing.json"))); code != 1 {
		t.Errorf("expected exit code 1 for a missing report, got %d", code)
	}
}

func TestVersion_TUIRejected(t *testing.T) {
	if code := exitCode(testApp(t, "version", "--tui")); code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
}
