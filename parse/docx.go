package parse

import (
	"archive/zip"
	"encoding/xml"
	"io"
	"strings"

	"dealgraph.org/common"
)

// DOCX body model. Paragraphs and tables arrive interleaved in document
// order; preserving that order keeps table chunks adjacent to the prose that
// introduces them.

type docxDocument struct {
	Body docxBody `xml:"body"`
}

type docxBody struct {
	Items []docxBlock `xml:",any"`
}

type docxBlock struct {
	XMLName xml.Name
	Runs    []docxRun  `xml:"r"`
	Rows    []docxRow  `xml:"tr"`
	Paras   []docxPara `xml:"tc>p"`
}

type docxPara struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Text  []string   `xml:"t"`
	Break []struct{} `xml:"br"`
}

type docxRow struct {
	Cells []docxTableCell `xml:"tc"`
}

type docxTableCell struct {
	Paras []docxPara `xml:"p"`
}

func parseDOCX(r io.ReaderAt, size int64) (*Result, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, common.Wrap(common.KindParseError, "not a valid docx archive", err)
	}
	doc, err := readZipXML[docxDocument](zr, "word/document.xml")
	if err != nil {
		return nil, common.Wrap(common.KindParseError, "failed to read document body", err)
	}

	var chunks []Chunk
	var prose strings.Builder

	flushProse := func() {
		text := strings.TrimSpace(prose.String())
		if text != "" {
			chunks = append(chunks, WindowText(text)...)
		}
		prose.Reset()
	}

	for _, block := range doc.Body.Items {
		switch block.XMLName.Local {
		case "p":
			text := runsText(block.Runs)
			if text != "" {
				prose.WriteString(text)
				prose.WriteString("\n\n")
			}
		case "tbl":
			flushProse()
			table := renderDocxTable(block.Rows)
			if table != "" {
				chunks = append(chunks, TableChunk(table, "", "", nil))
			}
		}
	}
	flushProse()

	if len(chunks) == 0 {
		return nil, common.E(common.KindParseError, "document contains no text")
	}
	return &Result{Format: FormatDOCX, Chunks: reindex(chunks)}, nil
}

func runsText(runs []docxRun) string {
	var b strings.Builder
	for _, r := range runs {
		for range r.Break {
			b.WriteString("\n")
		}
		for _, t := range r.Text {
			b.WriteString(t)
		}
	}
	return strings.TrimSpace(b.String())
}

func renderDocxTable(rows []docxRow) string {
	var b strings.Builder
	for _, row := range rows {
		var cells []string
		for _, cell := range row.Cells {
			var cb strings.Builder
			for _, p := range cell.Paras {
				if cb.Len() > 0 {
					cb.WriteString(" ")
				}
				cb.WriteString(runsText(p.Runs))
			}
			cells = append(cells, strings.TrimSpace(cb.String()))
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
