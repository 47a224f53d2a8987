// Package parse turns uploaded document blobs into provenance-carrying
// chunks ready for graph ingestion.
//
// Formats are detected from magic bytes before the declared MIME type is
// trusted. PDF text extraction shells out to pdftotext, which handles layout
// and encoding far better than any pure-Go extractor; XLSX and DOCX are ZIP
// archives of XML parts read directly. Tables are always kept whole: a table
// split across chunks loses the row/column relationships the analysis stage
// depends on. Chunks that exceed the window ceiling are emitted anyway with
// an oversize marker.
package parse

import (
	"bytes"
	"context"
	"io"
	"strings"

	"dealgraph.org/common"
)

// Chunk types.
const (
	ChunkText    = "text"
	ChunkTable   = "table"
	ChunkFormula = "formula"
)

// Chunk is one parsed slice of a document with provenance.
type Chunk struct {
	Index      int
	Content    string
	Type       string
	PageNumber *int
	SheetName  string
	CellRef    string
	TokenCount int
	// Oversize marks chunks above the window ceiling that could not be split
	// without destroying structure.
	Oversize bool
	// OCRProcessed marks text recovered by the OCR fallback; such text is
	// less reliable than an embedded text layer.
	OCRProcessed bool
}

// MetricCandidate is a numeric cell with row/column labels, extracted
// deterministically from spreadsheets.
type MetricCandidate struct {
	Name    string
	Value   float64
	Sheet   string
	CellRef string
	Formula string
}

// Result is the full output of parsing one document.
type Result struct {
	Format  Format
	Chunks  []Chunk
	Metrics []MetricCandidate
	// PageCount is set for paginated formats.
	PageCount int
	// SkippedPages lists PDF pages with no text layer that OCR could not
	// recover either.
	SkippedPages []int
	// SkippedSheets lists workbook sheets excluded because they are hidden.
	SkippedSheets []string
}

// Parser dispatches on detected format.
type Parser struct {
	pdf *PDFExtractor
	ocr *OCRExtractor
}

// NewParser builds a parser with the default external PDF and OCR extractors.
func NewParser() *Parser {
	return &Parser{pdf: NewPDFExtractor(), ocr: NewOCRExtractor()}
}

// Parse reads the blob and produces chunks. Unsupported formats return a
// ParseError so the pipeline fails the document terminally instead of
// retrying a hopeless job.
func (p *Parser) Parse(ctx context.Context, filename, declaredMIME string, r io.Reader) (*Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, common.Wrap(common.KindTransientIO, "failed to read document blob", err)
	}
	if len(data) == 0 {
		return nil, common.E(common.KindParseError, "document is empty")
	}

	format := DetectFormat(filename, declaredMIME, data)
	switch format {
	case FormatPDF:
		return p.parsePDF(ctx, data)
	case FormatXLSX:
		return parseXLSX(bytes.NewReader(data), int64(len(data)))
	case FormatDOCX:
		return parseDOCX(bytes.NewReader(data), int64(len(data)))
	case FormatHTML:
		return parseHTML(bytes.NewReader(data))
	case FormatText:
		return parseText(string(data)), nil
	default:
		return nil, common.Ef(common.KindParseError, "unsupported document format for %s", filename)
	}
}

func (p *Parser) parsePDF(ctx context.Context, data []byte) (*Result, error) {
	pages, err := p.pdf.Extract(ctx, data)
	if err != nil {
		return nil, err
	}
	recoverPage := func(int) (string, bool) { return "", false }
	if p.ocr != nil && p.ocr.IsAvailable() {
		recoverPage = func(page int) (string, bool) {
			text, err := p.ocr.ExtractPage(ctx, data, page)
			if err != nil {
				common.Logger.WithError(err).WithField("page", page).Warn("ocr recovery failed")
				return "", false
			}
			return text, strings.TrimSpace(text) != ""
		}
	}
	chunks, skipped := assemblePDFPages(pages, recoverPage)
	if len(chunks) == 0 {
		return nil, common.E(common.KindParseError, "pdf contains no extractable text")
	}
	return &Result{Format: FormatPDF, Chunks: reindex(chunks), PageCount: len(pages), SkippedPages: skipped}, nil
}

// assemblePDFPages windows per-page text into chunks. Pages with no embedded
// text go through recoverPage, the OCR pass; pages it cannot recover are
// reported as skipped so the document record can disclose the gap.
func assemblePDFPages(pages []string, recoverPage func(page int) (string, bool)) ([]Chunk, []int) {
	var chunks []Chunk
	var skipped []int
	for i, page := range pages {
		pageNum := i + 1
		recovered := false
		if strings.TrimSpace(page) == "" {
			text, ok := recoverPage(pageNum)
			if !ok {
				skipped = append(skipped, pageNum)
				continue
			}
			page = text
			recovered = true
		}
		for _, c := range WindowText(page) {
			n := pageNum
			c.PageNumber = &n
			c.OCRProcessed = recovered
			chunks = append(chunks, c)
		}
	}
	return chunks, skipped
}

func parseText(text string) *Result {
	return &Result{Format: FormatText, Chunks: reindex(WindowText(text))}
}

// reindex assigns final sequential chunk indexes.
func reindex(chunks []Chunk) []Chunk {
	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks
}
