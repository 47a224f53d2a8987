package parse

import (
	"strings"
)

// WindowText splits prose into chunks of WindowMin..WindowMax estimated
// tokens, breaking on paragraph boundaries first and sentence boundaries
// when a single paragraph exceeds the ceiling.
func WindowText(text string) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []Chunk
	var buf strings.Builder
	bufTokens := 0

	flush := func() {
		content := strings.TrimSpace(buf.String())
		if content != "" {
			chunks = append(chunks, Chunk{
				Content:    content,
				Type:       ChunkText,
				TokenCount: EstimateTokens(content),
			})
		}
		buf.Reset()
		bufTokens = 0
	}

	for _, para := range splitParagraphs(text) {
		paraTokens := EstimateTokens(para)

		if paraTokens > WindowMax {
			flush()
			for _, piece := range splitLongParagraph(para) {
				chunks = append(chunks, Chunk{
					Content:    piece,
					Type:       ChunkText,
					TokenCount: EstimateTokens(piece),
				})
			}
			continue
		}

		if bufTokens+paraTokens > WindowMax {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(para)
		bufTokens += paraTokens

		if bufTokens >= WindowMin {
			flush()
		}
	}
	flush()
	return chunks
}

// TableChunk wraps rendered table content as a single chunk, never split.
func TableChunk(content, sheet, cellRef string, page *int) Chunk {
	tokens := EstimateTokens(content)
	return Chunk{
		Content:    content,
		Type:       ChunkTable,
		SheetName:  sheet,
		CellRef:    cellRef,
		PageNumber: page,
		TokenCount: tokens,
		Oversize:   tokens > WindowMax,
	}
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitLongParagraph breaks on sentence ends, packing sentences up to the
// window ceiling. A single sentence beyond the ceiling is emitted as-is.
func splitLongParagraph(para string) []string {
	sentences := splitSentences(para)
	var out []string
	var buf strings.Builder
	bufTokens := 0

	for _, s := range sentences {
		t := EstimateTokens(s)
		if bufTokens+t > WindowMax && buf.Len() > 0 {
			out = append(out, strings.TrimSpace(buf.String()))
			buf.Reset()
			bufTokens = 0
		}
		if buf.Len() > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(s)
		bufTokens += t
	}
	if buf.Len() > 0 {
		out = append(out, strings.TrimSpace(buf.String()))
	}
	return out
}

func splitSentences(text string) []string {
	var sentences []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			// Sentence end only when followed by whitespace or EOF; keeps
			// decimals like 3.5 and abbreviations mid-sentence intact.
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' {
				s := strings.TrimSpace(string(runes[start : i+1]))
				if s != "" {
					sentences = append(sentences, s)
				}
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}
