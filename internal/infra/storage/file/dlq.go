package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/core/metrics"
	"github.com/vietddude/relay/internal/infra/statefile"
)

// DLQ is an append-only JSONL dead-letter log. Appends run under an exclusive
// advisory lock; rows are never mutated or deleted by this system.
type DLQ struct {
	path string
}

// NewDLQ creates a file-backed dead-letter queue at path.
func NewDLQ(path string) *DLQ {
	return &DLQ{path: path}
}

// Append writes one record as a single JSON line.
func (d *DLQ) Append(ctx context.Context, rec *domain.DLQRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode dlq record: %w", err)
	}
	if err := statefile.AppendLine(ctx, d.path, line); err != nil {
		return err
	}
	metrics.DLQAppendsTotal.Inc()
	return nil
}

// ReadAll returns every record in the log, oldest first. Intended for
// operator tooling and tests; the worker itself never reads the DLQ.
func (d *DLQ) ReadAll(ctx context.Context) ([]domain.DLQRecord, error) {
	fh, err := os.Open(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open dlq %s: %w", d.path, err)
	}
	defer fh.Close()

	var records []domain.DLQRecord
	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec domain.DLQRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("decode dlq row: %w", err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dlq %s: %w", d.path, err)
	}
	return records, nil
}
