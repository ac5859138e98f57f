package cmd

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/justapithecus/sitemapper/stream"
	"github.com/justapithecus/sitemapper/types"
)

// Input formats.
const (
	inputFrames = "frames"
	inputJSONL  = "jsonl"
)

// inputFormat resolves the input format, inferring it from the extension
// when format is empty.
func inputFormat(path, format string) (string, error) {
	switch format {
	case inputFrames, inputJSONL:
		return format, nil
	case "":
		switch strings.ToLower(filepath.Ext(path)) {
		case ".jsonl", ".ndjson", ".json":
			return inputJSONL, nil
		default:
			return inputFrames, nil
		}
	default:
		return "", fmt.Errorf("invalid input format: %q (must be frames or jsonl)", format)
	}
}

// readRecords reads a captured batch from path ("-" is stdin).
// JSONL lines become records keyed by partitionKey and numbered from 1.
func readRecords(path, format, partitionKey string) ([]types.StreamRecord, error) {
	format, err := inputFormat(path, format)
	if err != nil {
		return nil, err
	}

	var in io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("cannot open input: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	if format == inputFrames {
		return stream.ReadAll(bufio.NewReader(in))
	}
	return readJSONL(in, partitionKey, time.Now())
}

func readJSONL(r io.Reader, partitionKey string, arrival time.Time) ([]types.StreamRecord, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), stream.MaxPayloadSize)

	var out []types.StreamRecord
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		out = append(out, types.StreamRecord{
			PartitionKey:       partitionKey,
			SequenceNumber:     strconv.Itoa(len(out) + 1),
			Data:               bytes.Clone(line),
			ApproximateArrival: arrival,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read jsonl: %w", err)
	}
	return out, nil
}
