package parse

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildXLSX(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func minimalWorkbook(t *testing.T) []byte {
	return buildXLSX(t, map[string]string{
		"xl/workbook.xml": `<?xml version="1.0"?>
<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"
          xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
  <sheets><sheet name="P&amp;L" sheetId="1" r:id="rId1"/></sheets>
</workbook>`,
		"xl/_rels/workbook.xml.rels": `<?xml version="1.0"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Target="worksheets/sheet1.xml"/>
</Relationships>`,
		"xl/sharedStrings.xml": `<?xml version="1.0"?>
<sst><si><t>Revenue</t></si><si><t>EBITDA</t></si><si><t>FY2023</t></si></sst>`,
		"xl/worksheets/sheet1.xml": `<?xml version="1.0"?>
<worksheet>
  <sheetData>
    <row r="1"><c r="A1" t="s"><v>2</v></c></row>
    <row r="2"><c r="A2" t="s"><v>0</v></c><c r="B2"><v>1500000</v></c></row>
    <row r="3"><c r="A3" t="s"><v>1</v></c><c r="B3"><f>B2*0.2</f><v>300000</v></c></row>
  </sheetData>
</worksheet>`,
	})
}

func TestParseXLSX(t *testing.T) {
	data := minimalWorkbook(t)
	res, err := parseXLSX(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, res.Format)

	require.NotEmpty(t, res.Chunks)
	table := res.Chunks[0]
	assert.Equal(t, ChunkTable, table.Type)
	assert.Equal(t, "P&L", table.SheetName)
	assert.Contains(t, table.Content, "Revenue | 1500000")
	assert.Contains(t, table.Content, "EBITDA | 300000")
}

func TestParseXLSXMetricProvenance(t *testing.T) {
	data := minimalWorkbook(t)
	res, err := parseXLSX(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	require.Len(t, res.Metrics, 2)
	rev := res.Metrics[0]
	assert.Equal(t, "Revenue", rev.Name)
	assert.Equal(t, 1500000.0, rev.Value)
	assert.Equal(t, "B2", rev.CellRef)
	assert.Equal(t, "P&L", rev.Sheet)

	ebitda := res.Metrics[1]
	assert.Equal(t, "EBITDA", ebitda.Name)
	assert.Equal(t, "B2*0.2", ebitda.Formula)
}

func TestParseXLSXFormulaChunk(t *testing.T) {
	data := minimalWorkbook(t)
	res, err := parseXLSX(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	var formula *Chunk
	for i := range res.Chunks {
		if res.Chunks[i].Type == ChunkFormula {
			formula = &res.Chunks[i]
		}
	}
	require.NotNil(t, formula, "expected a formula chunk")
	assert.Contains(t, formula.Content, "P&L!B3 = B2*0.2")
}

func TestParseXLSXSkipsHiddenSheets(t *testing.T) {
	data := buildXLSX(t, map[string]string{
		"xl/workbook.xml": `<?xml version="1.0"?>
<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"
          xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
  <sheets>
    <sheet name="Model" sheetId="1" r:id="rId1"/>
    <sheet name="Old Scenario" sheetId="2" state="hidden" r:id="rId2"/>
    <sheet name="Scratch" sheetId="3" state="veryHidden" r:id="rId3"/>
  </sheets>
</workbook>`,
		"xl/_rels/workbook.xml.rels": `<?xml version="1.0"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Target="worksheets/sheet1.xml"/>
  <Relationship Id="rId2" Target="worksheets/sheet2.xml"/>
  <Relationship Id="rId3" Target="worksheets/sheet3.xml"/>
</Relationships>`,
		"xl/worksheets/sheet1.xml": `<worksheet><sheetData>
  <row r="1"><c r="A1"><v>100</v></c></row>
</sheetData></worksheet>`,
		"xl/worksheets/sheet2.xml": `<worksheet><sheetData>
  <row r="1"><c r="A1"><v>999</v></c></row>
</sheetData></worksheet>`,
		"xl/worksheets/sheet3.xml": `<worksheet><sheetData>
  <row r="1"><c r="A1"><v>888</v></c></row>
</sheetData></worksheet>`,
	})

	res, err := parseXLSX(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, []string{"Old Scenario", "Scratch"}, res.SkippedSheets)
	for _, c := range res.Chunks {
		assert.Equal(t, "Model", c.SheetName)
		assert.NotContains(t, c.Content, "999")
	}
}

func TestParseXLSXAllSheetsHidden(t *testing.T) {
	data := buildXLSX(t, map[string]string{
		"xl/workbook.xml": `<workbook>
  <sheets><sheet name="Hidden" sheetId="1" state="hidden" r:id="rId1"/></sheets>
</workbook>`,
		"xl/_rels/workbook.xml.rels": `<Relationships>
  <Relationship Id="rId1" Target="worksheets/sheet1.xml"/>
</Relationships>`,
		"xl/worksheets/sheet1.xml": `<worksheet><sheetData>
  <row r="1"><c r="A1"><v>1</v></c></row>
</sheetData></worksheet>`,
	})
	_, err := parseXLSX(bytes.NewReader(data), int64(len(data)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no visible sheets")
}

func TestParseXLSXNotAnArchive(t *testing.T) {
	data := []byte("definitely not a zip")
	_, err := parseXLSX(bytes.NewReader(data), int64(len(data)))
	assert.Error(t, err)
}

func TestParseXLSXEmptyWorkbook(t *testing.T) {
	data := buildXLSX(t, map[string]string{
		"xl/workbook.xml":            `<workbook><sheets/></workbook>`,
		"xl/_rels/workbook.xml.rels": `<Relationships/>`,
	})
	_, err := parseXLSX(bytes.NewReader(data), int64(len(data)))
	assert.Error(t, err)
}

func TestColumnIndex(t *testing.T) {
	assert.Equal(t, 0, columnIndex("A1"))
	assert.Equal(t, 1, columnIndex("B12"))
	assert.Equal(t, 26, columnIndex("AA3"))
}

func TestRowIndex(t *testing.T) {
	assert.Equal(t, 1, rowIndex("A1"))
	assert.Equal(t, 12, rowIndex("B12"))
}
