package parse

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"dealgraph.org/common"
)

// OCRExtractor recovers text from pages with no embedded text layer,
// typically scanned exhibits. The page is rendered with pdftoppm and read
// with tesseract; both stream over stdin and stdout.
type OCRExtractor struct {
	RenderBinary string
	OCRBinary    string
	Timeout      time.Duration
	DPI          int
}

// NewOCRExtractor returns an extractor with default settings.
func NewOCRExtractor() *OCRExtractor {
	return &OCRExtractor{
		RenderBinary: "pdftoppm",
		OCRBinary:    "tesseract",
		Timeout:      2 * time.Minute,
		DPI:          300,
	}
}

// IsAvailable checks both binaries are installed and runnable.
func (o *OCRExtractor) IsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if exec.CommandContext(ctx, o.RenderBinary, "-v").Run() != nil {
		return false
	}
	return exec.CommandContext(ctx, o.OCRBinary, "--version").Run() == nil
}

// ExtractPage renders one page of the PDF and returns its recognized text.
func (o *OCRExtractor) ExtractPage(ctx context.Context, data []byte, page int) (string, error) {
	timeout := o.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	image, err := o.renderPage(ctx, data, page)
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, o.OCRBinary, "stdin", "stdout")
	cmd.Stdin = bytes.NewReader(image)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", common.E(common.KindTimeout, "ocr timed out")
		}
		return "", common.Ef(common.KindParseError, "ocr failed: %s",
			common.Truncate(strings.TrimSpace(stderr.String()), 500))
	}
	return stdout.String(), nil
}

func (o *OCRExtractor) renderPage(ctx context.Context, data []byte, page int) ([]byte, error) {
	p := strconv.Itoa(page)
	// No output root makes pdftoppm write the image to stdout.
	cmd := exec.CommandContext(ctx, o.RenderBinary,
		"-png", "-r", strconv.Itoa(o.DPI), "-f", p, "-l", p, "-")
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, common.E(common.KindTimeout, "page render timed out")
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, common.Ef(common.KindParseError, "page render failed: %s", common.Truncate(msg, 500))
	}
	return stdout.Bytes(), nil
}
