// internal/media/document.go
package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DocumentOptimizer shrinks or sanitizes a document payload. It is
// best-effort by contract: implementations return the input unchanged
// when no transform applies or the tool fails, and never fail the job.
type DocumentOptimizer interface {
	Optimize(ctx context.Context, data []byte, ext string) []byte
}

// ToolOptimizer shells out to a PDF compactor (ghostscript pdfwrite)
// and a metadata stripper (exiftool). Both tools are optional
// infrastructure; their absence degrades to pass-through.
type ToolOptimizer struct {
	PDFTool  string
	MetaTool string

	logger *slog.Logger
}

func NewToolOptimizer(logger *slog.Logger) *ToolOptimizer {
	return &ToolOptimizer{
		PDFTool:  "gs",
		MetaTool: "exiftool",
		logger:   logger,
	}
}

// Optimize dispatches by extension: PDFs are compacted, office formats
// get their metadata stripped, anything else is stored unchanged.
func (t *ToolOptimizer) Optimize(ctx context.Context, data []byte, ext string) []byte {
	switch strings.ToLower(ext) {
	case ".pdf":
		return t.run(ctx, data, ext, t.compactPDF)
	case ".doc", ".docx", ".xls", ".xlsx":
		return t.run(ctx, data, ext, t.stripMetadata)
	default:
		return data
	}
}

// run invokes one tool against uniquely named temp files. Every exit
// path removes the input, the output and the exiftool backup sidecar.
func (t *ToolOptimizer) run(ctx context.Context, data []byte, ext string, invoke func(ctx context.Context, in, out string) error) []byte {
	id := uuid.NewString()
	in := filepath.Join(os.TempDir(), "docopt-"+id+"-in"+ext)
	out := filepath.Join(os.TempDir(), "docopt-"+id+"-out"+ext)
	defer func() {
		os.Remove(in)
		os.Remove(out)
		os.Remove(in + "_original")
	}()

	if err := os.WriteFile(in, data, 0o600); err != nil {
		t.logger.Warn("document optimization skipped", "ext", ext, "err", err)
		return data
	}
	if err := invoke(ctx, in, out); err != nil {
		t.logger.Warn("document optimization failed, storing original", "ext", ext, "err", err)
		return data
	}
	optimized, err := os.ReadFile(out)
	if err != nil {
		t.logger.Warn("document optimization produced no output, storing original", "ext", ext, "err", err)
		return data
	}
	if len(optimized) == 0 || len(optimized) >= len(data) {
		return data
	}
	return optimized
}

func (t *ToolOptimizer) compactPDF(ctx context.Context, in, out string) error {
	if _, err := exec.LookPath(t.PDFTool); err != nil {
		return fmt.Errorf("%s not found in PATH: %w", t.PDFTool, err)
	}

	args := []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.4",
		"-dPDFSETTINGS=/ebook",
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		"-sOutputFile=" + out,
		in,
	}

	cmd := exec.CommandContext(ctx, t.PDFTool, args...)
	if combined, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s failed: %w\noutput: %s", t.PDFTool, err, combined)
	}
	return nil
}

func (t *ToolOptimizer) stripMetadata(ctx context.Context, in, out string) error {
	if _, err := exec.LookPath(t.MetaTool); err != nil {
		return fmt.Errorf("%s not found in PATH: %w", t.MetaTool, err)
	}

	// -all= removes every metadata tag, -o writes to a new file instead
	// of editing in place.
	cmd := exec.CommandContext(ctx, t.MetaTool, "-all=", "-o", out, in)
	if combined, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s failed: %w\noutput: %s", t.MetaTool, err, combined)
	}
	return nil
}
