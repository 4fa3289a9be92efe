package reporting

import (
	"fmt"
	"io"
	"os"

	"github.com/xkilldash9x/locus/internal/discovery"
)

// ToolName identifies the producer in every report format.
const ToolName = "locus"

// Reporter collects discovery reports and renders them to an output.
type Reporter interface {
	// Write adds one scenario's report.
	Write(report *discovery.Report) error
	// Close renders everything written so far and closes the output.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format ("json" or "junit") writing to
// outputPath, or to stdout when outputPath is empty or "stdout".
func New(format, outputPath, toolVersion string) (Reporter, error) {
	switch format {
	case "json", "junit":
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	if format == "junit" {
		return NewJUnitReporter(writer, toolVersion), nil
	}
	return NewJSONReporter(writer, toolVersion), nil
}
