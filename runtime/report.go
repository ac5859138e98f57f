package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/justapithecus/sitemapper/ingest"
	"github.com/justapithecus/sitemapper/metrics"
)

// InvocationReport is the structured JSON report written by --report.
type InvocationReport struct {
	InvocationID string  `json:"invocation_id"`
	ShardID      string  `json:"shard_id"`
	Outcome      Outcome `json:"outcome"`
	Message      string  `json:"message"`
	ExitCode     int     `json:"exit_code"`
	DurationMs   int64   `json:"duration_ms"`
	Records      int     `json:"records"`
	Skipped      int     `json:"skipped"`

	Types   []*ingest.Result  `json:"types"`
	Metrics *metrics.Snapshot `json:"metrics"`
}

// BuildReport composes a report from an invocation result and its error.
func BuildReport(res *InvocationResult, err error) *InvocationReport {
	outcome, code := DetermineOutcome(err)
	report := &InvocationReport{
		Outcome:  outcome,
		Message:  "invocation completed successfully",
		ExitCode: code,
	}
	if err != nil {
		report.Message = err.Error()
	}
	if res != nil {
		snap := res.Metrics
		report.InvocationID = res.InvocationID
		report.ShardID = res.ShardID
		report.DurationMs = res.Duration.Milliseconds()
		report.Records = res.Records
		report.Skipped = len(res.Skipped)
		report.Types = res.Types
		report.Metrics = &snap
	}
	return report
}

// WriteReport writes the report as JSON to the specified path.
// If path is "-", writes to stderr.
func WriteReport(report *InvocationReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}
	if path == "-" {
		if err := writeReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

func writeReportTo(report *InvocationReport, w io.Writer) error {
	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func marshalReport(report *InvocationReport) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}
