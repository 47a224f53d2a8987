package parse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowTextEmpty(t *testing.T) {
	assert.Nil(t, WindowText(""))
	assert.Nil(t, WindowText("   \n\n  "))
}

func TestWindowTextShortStaysWhole(t *testing.T) {
	chunks := WindowText("Revenue grew 12% year over year.")
	require.Len(t, chunks, 1)
	assert.Equal(t, ChunkText, chunks[0].Type)
	assert.False(t, chunks[0].Oversize)
}

func TestWindowTextRespectsCeiling(t *testing.T) {
	para := strings.Repeat("The company reported strong quarterly results across all segments. ", 40)
	text := para + "\n\n" + para + "\n\n" + para

	chunks := WindowText(text)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.LessOrEqual(t, c.TokenCount, WindowMax, "chunk %d above ceiling", i)
		assert.Equal(t, EstimateTokens(c.Content), c.TokenCount)
	}
}

func TestWindowTextPacksToFloor(t *testing.T) {
	// Many small paragraphs should be packed together, not one chunk each.
	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString("Short paragraph about the target company and its operations in detail.\n\n")
	}
	chunks := WindowText(sb.String())
	require.NotEmpty(t, chunks)
	for _, c := range chunks[:len(chunks)-1] {
		assert.GreaterOrEqual(t, c.TokenCount, WindowMin, "non-final chunk below floor")
	}
}

func TestWindowTextSplitsGiantParagraph(t *testing.T) {
	// One paragraph far beyond the ceiling, no blank lines.
	para := strings.Repeat("EBITDA margins expanded due to operating leverage and pricing actions. ", 120)
	chunks := WindowText(para)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.TokenCount, WindowMax+50)
	}
}

func TestSplitSentencesKeepsDecimals(t *testing.T) {
	sentences := splitSentences("Revenue was 3.5 million. Margin was 12.4 percent.")
	require.Len(t, sentences, 2)
	assert.Equal(t, "Revenue was 3.5 million.", sentences[0])
}

func TestTableChunkNeverSplit(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 500; i++ {
		sb.WriteString("FY2023 | Revenue | 1,234,567 | Audited\n")
	}
	chunk := TableChunk(sb.String(), "P&L", "A1:D500", nil)
	assert.Equal(t, ChunkTable, chunk.Type)
	assert.True(t, chunk.Oversize)
	assert.Equal(t, "P&L", chunk.SheetName)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.GreaterOrEqual(t, EstimateTokens("word"), 1)
	long := strings.Repeat("a reasonably normal sentence with several words ", 100)
	est := EstimateTokens(long)
	assert.Greater(t, est, 100)
}
