package parse

import (
	"archive/zip"
	"bytes"
	"path/filepath"
	"strings"
)

// Format identifies a supported document format.
type Format string

const (
	FormatPDF     Format = "pdf"
	FormatXLSX    Format = "xlsx"
	FormatDOCX    Format = "docx"
	FormatHTML    Format = "html"
	FormatText    Format = "text"
	FormatUnknown Format = "unknown"
)

var zipMagic = []byte("PK\x03\x04")

// DetectFormat decides the format from magic bytes first, then falls back to
// the declared MIME type and the filename extension. Uploaded MIME types are
// client-controlled and routinely wrong.
func DetectFormat(filename, declaredMIME string, head []byte) Format {
	if bytes.HasPrefix(head, []byte("%PDF")) {
		return FormatPDF
	}
	if bytes.HasPrefix(head, zipMagic) {
		return detectZipFormat(filename, head)
	}

	switch strings.ToLower(declaredMIME) {
	case "application/pdf":
		return FormatPDF
	case "text/html":
		return FormatHTML
	case "text/plain", "text/csv", "text/markdown":
		return FormatText
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return FormatPDF
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".docx":
		return FormatDOCX
	case ".html", ".htm":
		return FormatHTML
	case ".txt", ".md", ".csv":
		return FormatText
	}

	if looksLikeHTML(head) {
		return FormatHTML
	}
	if looksLikeText(head) {
		return FormatText
	}
	return FormatUnknown
}

// detectZipFormat distinguishes OOXML containers by their internal parts.
func detectZipFormat(filename string, data []byte) Format {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err == nil {
		for _, f := range zr.File {
			if strings.HasPrefix(f.Name, "xl/") {
				return FormatXLSX
			}
			if strings.HasPrefix(f.Name, "word/") {
				return FormatDOCX
			}
		}
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".docx":
		return FormatDOCX
	}
	return FormatUnknown
}

func looksLikeHTML(head []byte) bool {
	sample := strings.ToLower(string(head[:min(len(head), 512)]))
	return strings.Contains(sample, "<html") || strings.Contains(sample, "<!doctype html")
}

// looksLikeText accepts content that is mostly printable.
func looksLikeText(head []byte) bool {
	sample := head[:min(len(head), 512)]
	if len(sample) == 0 {
		return false
	}
	printable := 0
	for _, b := range sample {
		if b == '\n' || b == '\r' || b == '\t' || (b >= 0x20 && b < 0x7f) || b >= 0x80 {
			printable++
		}
	}
	return float64(printable)/float64(len(sample)) > 0.9
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
