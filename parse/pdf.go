package parse

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"dealgraph.org/common"
)

// PDFExtractor shells out to pdftotext (poppler-utils). External extraction
// handles layout, ligatures, and broken encodings that in-process libraries
// consistently get wrong on real deal documents.
type PDFExtractor struct {
	// Binary allows overriding the executable, mostly for tests.
	Binary  string
	Timeout time.Duration
}

// NewPDFExtractor returns an extractor with default settings.
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{Binary: "pdftotext", Timeout: 2 * time.Minute}
}

// IsAvailable checks the binary is installed and runnable.
func (p *PDFExtractor) IsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, p.Binary, "-v").Run() == nil
}

// Extract returns per-page text. pdftotext separates pages with form feeds.
func (p *PDFExtractor) Extract(ctx context.Context, data []byte) ([]string, error) {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// -layout preserves column alignment so financial tables stay readable;
	// "- -" reads the PDF from stdin and writes text to stdout.
	cmd := exec.CommandContext(ctx, p.Binary, "-layout", "-enc", "UTF-8", "-", "-")
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, common.E(common.KindTimeout, "pdf extraction timed out")
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		if strings.Contains(strings.ToLower(msg), "executable file not found") {
			return nil, common.Wrap(common.KindTransientIO, "pdftotext not installed", err)
		}
		// Corrupt or encrypted input is the document's fault, not transient.
		return nil, common.Ef(common.KindParseError, "pdf extraction failed: %s", common.Truncate(msg, 500))
	}

	// Keep empty pages in place so slice index + 1 stays the real page
	// number; pdftotext emits a trailing form feed after the last page.
	pages := strings.Split(stdout.String(), "\f")
	if len(pages) > 0 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	return pages, nil
}
