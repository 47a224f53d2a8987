package parse

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"dealgraph.org/common"
)

// XLSX files are ZIP archives of XML parts. The subset read here - shared
// strings, the workbook sheet list, and per-sheet cell data with formulas -
// covers what due-diligence spreadsheets need for provenance; styles, charts,
// and pivot caches are ignored.

type xlsxSST struct {
	Items []xlsxSI `xml:"si"`
}

type xlsxSI struct {
	T    *string  `xml:"t"`
	Runs []xlsxRT `xml:"r"`
}

type xlsxRT struct {
	T string `xml:"t"`
}

func (si xlsxSI) text() string {
	if si.T != nil {
		return *si.T
	}
	var b strings.Builder
	for _, r := range si.Runs {
		b.WriteString(r.T)
	}
	return b.String()
}

type xlsxWorkbook struct {
	Sheets []xlsxSheetRef `xml:"sheets>sheet"`
}

type xlsxSheetRef struct {
	Name  string `xml:"name,attr"`
	RID   string `xml:"id,attr"`
	State string `xml:"state,attr"`
}

type xlsxRels struct {
	Rels []xlsxRel `xml:"Relationship"`
}

type xlsxRel struct {
	ID     string `xml:"Id,attr"`
	Target string `xml:"Target,attr"`
}

type xlsxWorksheet struct {
	Rows []xlsxRow `xml:"sheetData>row"`
}

type xlsxRow struct {
	R     int        `xml:"r,attr"`
	Cells []xlsxCell `xml:"c"`
}

type xlsxCell struct {
	R string `xml:"r,attr"`
	T string `xml:"t,attr"`
	V string `xml:"v"`
	F string `xml:"f"`
}

type sheetCell struct {
	ref     string
	value   string
	formula string
	numeric bool
	number  float64
}

func parseXLSX(r io.ReaderAt, size int64) (*Result, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, common.Wrap(common.KindParseError, "not a valid xlsx archive", err)
	}

	shared, err := readSharedStrings(zr)
	if err != nil {
		return nil, err
	}
	sheets, hidden, err := sheetTargets(zr)
	if err != nil {
		return nil, err
	}

	result := &Result{Format: FormatXLSX, SkippedSheets: hidden}
	for _, ref := range sheets {
		ws, err := readZipXML[xlsxWorksheet](zr, ref.target)
		if err != nil {
			return nil, common.Wrap(common.KindParseError,
				fmt.Sprintf("failed to read sheet %s", ref.name), err)
		}
		grid, cells := buildGrid(ws, shared)
		if len(grid) == 0 {
			continue
		}

		content := renderSheet(ref.name, grid)
		chunk := TableChunk(content, ref.name, sheetRange(cells), nil)
		result.Chunks = append(result.Chunks, chunk)
		result.Metrics = append(result.Metrics, extractMetrics(ref.name, grid, cells)...)

		// Formulas get their own chunk so "how was this number computed"
		// questions can cite the exact cell.
		if fc := formulaChunk(ref.name, cells); fc != nil {
			result.Chunks = append(result.Chunks, *fc)
		}
	}

	if len(result.Chunks) == 0 {
		if len(hidden) > 0 {
			return nil, common.E(common.KindParseError, "workbook has no visible sheets with data")
		}
		return nil, common.E(common.KindParseError, "workbook contains no data")
	}
	result.Chunks = reindex(result.Chunks)
	return result, nil
}

func readSharedStrings(zr *zip.Reader) ([]string, error) {
	sst, err := readZipXML[xlsxSST](zr, "xl/sharedStrings.xml")
	if err != nil {
		// Optional part: workbooks with only inline or numeric values.
		return nil, nil
	}
	out := make([]string, len(sst.Items))
	for i, si := range sst.Items {
		out[i] = si.text()
	}
	return out, nil
}

type sheetTarget struct {
	name   string
	target string
}

// sheetTargets resolves visible sheets to their archive paths. Hidden and
// veryHidden sheets are excluded and reported by name: hidden tabs in deal
// models often hold stale scenarios that would poison the extracted metrics.
func sheetTargets(zr *zip.Reader) ([]sheetTarget, []string, error) {
	wb, err := readZipXML[xlsxWorkbook](zr, "xl/workbook.xml")
	if err != nil {
		return nil, nil, common.Wrap(common.KindParseError, "failed to read workbook", err)
	}
	rels, err := readZipXML[xlsxRels](zr, "xl/_rels/workbook.xml.rels")
	if err != nil {
		return nil, nil, common.Wrap(common.KindParseError, "failed to read workbook relationships", err)
	}
	byID := map[string]string{}
	for _, rel := range rels.Rels {
		byID[rel.ID] = rel.Target
	}

	var out []sheetTarget
	var hidden []string
	for _, s := range wb.Sheets {
		if s.State == "hidden" || s.State == "veryHidden" {
			hidden = append(hidden, s.Name)
			continue
		}
		target, ok := byID[s.RID]
		if !ok {
			continue
		}
		if !strings.HasPrefix(target, "/") {
			target = path.Join("xl", target)
		} else {
			target = strings.TrimPrefix(target, "/")
		}
		out = append(out, sheetTarget{name: s.Name, target: target})
	}
	return out, hidden, nil
}

func readZipXML[T any](zr *zip.Reader, name string) (*T, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var v T
	if err := xml.NewDecoder(f).Decode(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

// buildGrid resolves shared strings and returns both a row/col value grid and
// the flat cell list with refs and formulas.
func buildGrid(ws *xlsxWorksheet, shared []string) ([][]string, []sheetCell) {
	var grid [][]string
	var cells []sheetCell
	for _, row := range ws.Rows {
		var values []string
		for _, c := range row.Cells {
			val := c.V
			if c.T == "s" {
				idx, err := strconv.Atoi(c.V)
				if err == nil && idx >= 0 && idx < len(shared) {
					val = shared[idx]
				}
			}
			col := columnIndex(c.R)
			for len(values) < col {
				values = append(values, "")
			}
			values = append(values, val)

			cell := sheetCell{ref: c.R, value: val, formula: c.F}
			if c.T == "" || c.T == "n" {
				if n, err := strconv.ParseFloat(c.V, 64); err == nil {
					cell.numeric = true
					cell.number = n
				}
			}
			cells = append(cells, cell)
		}
		if len(values) > 0 {
			grid = append(grid, values)
		}
	}
	return grid, cells
}

// columnIndex converts a cell reference like "C12" to a zero-based column.
func columnIndex(ref string) int {
	col := 0
	for _, r := range ref {
		if r >= 'A' && r <= 'Z' {
			col = col*26 + int(r-'A') + 1
		} else {
			break
		}
	}
	if col > 0 {
		col--
	}
	return col
}

func sheetRange(cells []sheetCell) string {
	if len(cells) == 0 {
		return ""
	}
	return cells[0].ref + ":" + cells[len(cells)-1].ref
}

func renderSheet(name string, grid [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sheet: %s\n", name)
	for _, row := range grid {
		b.WriteString(strings.Join(row, " | "))
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// extractMetrics pairs numeric cells with their row label (first non-empty
// text cell in the row). Heuristic but deterministic: the analysis stage can
// refine names, the provenance never changes.
func extractMetrics(sheet string, grid [][]string, cells []sheetCell) []MetricCandidate {
	labelByRow := map[int]string{}
	for _, c := range cells {
		if c.numeric || c.value == "" {
			continue
		}
		row := rowIndex(c.ref)
		if _, seen := labelByRow[row]; !seen && columnIndex(c.ref) == 0 {
			labelByRow[row] = c.value
		}
	}

	var out []MetricCandidate
	for _, c := range cells {
		if !c.numeric {
			continue
		}
		label := labelByRow[rowIndex(c.ref)]
		if label == "" {
			continue
		}
		out = append(out, MetricCandidate{
			Name:    label,
			Value:   c.number,
			Sheet:   sheet,
			CellRef: c.ref,
			Formula: c.formula,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CellRef < out[j].CellRef })
	return out
}

func rowIndex(ref string) int {
	for i, r := range ref {
		if r >= '0' && r <= '9' {
			n, _ := strconv.Atoi(ref[i:])
			return n
		}
	}
	return 0
}

func formulaChunk(sheet string, cells []sheetCell) *Chunk {
	var b strings.Builder
	for _, c := range cells {
		if c.formula != "" {
			fmt.Fprintf(&b, "%s!%s = %s (value: %s)\n", sheet, c.ref, c.formula, c.value)
		}
	}
	if b.Len() == 0 {
		return nil
	}
	content := "Formulas:\n" + strings.TrimSpace(b.String())
	return &Chunk{
		Content:    content,
		Type:       ChunkFormula,
		SheetName:  sheet,
		TokenCount: EstimateTokens(content),
		Oversize:   EstimateTokens(content) > WindowMax,
	}
}
