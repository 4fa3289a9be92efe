package reporting

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/xkilldash9x/locus/internal/discovery"
)

// jsonDocument is the top level of the JSON output.
type jsonDocument struct {
	Tool        string              `json:"tool"`
	Version     string              `json:"version"`
	GeneratedAt time.Time           `json:"generated_at"`
	Reports     []*discovery.Report `json:"reports"`
}

// JSONReporter writes every report as one indented JSON document. It is
// safe for concurrent use.
type JSONReporter struct {
	mu      sync.Mutex
	writer  io.WriteCloser
	doc     jsonDocument
	closed  bool
	nowFunc func() time.Time
}

func NewJSONReporter(w io.WriteCloser, toolVersion string) *JSONReporter {
	return &JSONReporter{
		writer:  w,
		doc:     jsonDocument{Tool: ToolName, Version: toolVersion, Reports: []*discovery.Report{}},
		nowFunc: time.Now,
	}
}

func (r *JSONReporter) Write(report *discovery.Report) error {
	if report == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("json reporter already closed")
	}
	r.doc.Reports = append(r.doc.Reports, report)
	return nil
}

func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.doc.GeneratedAt = r.nowFunc().UTC()

	enc := json.NewEncoder(r.writer)
	enc.SetIndent("", "  ")
	encErr := enc.Encode(r.doc)
	closeErr := r.writer.Close()
	if encErr != nil {
		return fmt.Errorf("failed to encode json report: %w", encErr)
	}
	return closeErr
}
