package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectFormatMagicBytesWinOverMIME(t *testing.T) {
	// Declared MIME says spreadsheet, bytes say PDF. Bytes win.
	got := DetectFormat("report.xlsx", "application/vnd.ms-excel", []byte("%PDF-1.7 ..."))
	assert.Equal(t, FormatPDF, got)
}

func TestDetectFormatZipContainers(t *testing.T) {
	xlsx := buildXLSX(t, map[string]string{"xl/workbook.xml": "<workbook/>"})
	assert.Equal(t, FormatXLSX, DetectFormat("model.bin", "", xlsx))

	docx := buildXLSX(t, map[string]string{"word/document.xml": "<doc/>"})
	assert.Equal(t, FormatDOCX, DetectFormat("memo.bin", "", docx))
}

func TestDetectFormatMIMEFallback(t *testing.T) {
	assert.Equal(t, FormatHTML, DetectFormat("page", "text/html", []byte("<div>x</div>")))
	assert.Equal(t, FormatText, DetectFormat("notes", "text/plain", []byte("hello")))
}

func TestDetectFormatExtensionFallback(t *testing.T) {
	assert.Equal(t, FormatText, DetectFormat("readme.md", "", []byte("# title")))
	assert.Equal(t, FormatPDF, DetectFormat("scan.pdf", "", []byte("not really")))
}

func TestDetectFormatHTMLSniff(t *testing.T) {
	assert.Equal(t, FormatHTML, DetectFormat("x", "", []byte("<!DOCTYPE html><html><body></body></html>")))
}

func TestDetectFormatBinaryUnknown(t *testing.T) {
	assert.Equal(t, FormatUnknown, DetectFormat("blob", "application/octet-stream",
		[]byte{0x00, 0x01, 0x02, 0x03, 0xff, 0xfe, 0x00, 0x00, 0x00, 0x00}))
}
