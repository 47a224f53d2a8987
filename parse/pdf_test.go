package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssemblePDFPagesKeepsPageNumbers(t *testing.T) {
	pages := []string{"first page text", "second page text"}
	noRecovery := func(int) (string, bool) { return "", false }

	chunks, skipped := assemblePDFPages(pages, noRecovery)
	require.Len(t, chunks, 2)
	assert.Empty(t, skipped)
	assert.Equal(t, 1, *chunks[0].PageNumber)
	assert.Equal(t, 2, *chunks[1].PageNumber)
	assert.False(t, chunks[0].OCRProcessed)
}

func TestAssemblePDFPagesRecoversTextlessPage(t *testing.T) {
	pages := []string{"normal text", "   ", "more text"}
	recovered := map[int]string{2: "scanned exhibit text"}
	recoverPage := func(page int) (string, bool) {
		text, ok := recovered[page]
		return text, ok
	}

	chunks, skipped := assemblePDFPages(pages, recoverPage)
	require.Len(t, chunks, 3)
	assert.Empty(t, skipped)

	assert.Equal(t, 2, *chunks[1].PageNumber)
	assert.Equal(t, "scanned exhibit text", chunks[1].Content)
	assert.True(t, chunks[1].OCRProcessed)
	assert.False(t, chunks[0].OCRProcessed)
	assert.False(t, chunks[2].OCRProcessed)
}

func TestAssemblePDFPagesReportsUnrecoverablePages(t *testing.T) {
	pages := []string{"", "readable", "\f\n "}
	noRecovery := func(int) (string, bool) { return "", false }

	chunks, skipped := assemblePDFPages(pages, noRecovery)
	require.Len(t, chunks, 1)
	assert.Equal(t, 2, *chunks[0].PageNumber)
	assert.Equal(t, []int{1, 3}, skipped)
}
