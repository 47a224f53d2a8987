package parse

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDOCX(t *testing.T, body string) []byte {
	return buildXLSX(t, map[string]string{
		"word/document.xml": `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>` + body + `</w:body>
</w:document>`,
	})
}

func TestParseDOCXProse(t *testing.T) {
	data := buildDOCX(t, `
<w:p><w:r><w:t>The target operates in three segments.</w:t></w:r></w:p>
<w:p><w:r><w:t>Management expects continued growth.</w:t></w:r></w:p>`)

	res, err := parseDOCX(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, FormatDOCX, res.Format)
	require.Len(t, res.Chunks, 1)
	assert.Contains(t, res.Chunks[0].Content, "three segments")
	assert.Contains(t, res.Chunks[0].Content, "continued growth")
}

func TestParseDOCXTableKeptWhole(t *testing.T) {
	data := buildDOCX(t, `
<w:p><w:r><w:t>Key metrics below.</w:t></w:r></w:p>
<w:tbl>
  <w:tr><w:tc><w:p><w:r><w:t>Metric</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>Value</w:t></w:r></w:p></w:tc></w:tr>
  <w:tr><w:tc><w:p><w:r><w:t>Revenue</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>1.5m</w:t></w:r></w:p></w:tc></w:tr>
</w:tbl>`)

	res, err := parseDOCX(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, res.Chunks, 2)

	assert.Equal(t, ChunkText, res.Chunks[0].Type)
	assert.Equal(t, ChunkTable, res.Chunks[1].Type)
	assert.Contains(t, res.Chunks[1].Content, "Metric | Value")
	assert.Contains(t, res.Chunks[1].Content, "Revenue | 1.5m")
}

func TestParseDOCXEmpty(t *testing.T) {
	data := buildDOCX(t, `<w:p></w:p>`)
	_, err := parseDOCX(bytes.NewReader(data), int64(len(data)))
	assert.Error(t, err)
}
