package parse

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"dealgraph.org/common"
)

// parseHTML handles HTML uploads and converter output. Tables become whole
// table chunks; everything else is flattened to prose and windowed.
func parseHTML(r io.Reader) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, common.Wrap(common.KindParseError, "failed to parse html", err)
	}

	doc.Find("script, style, nav, footer").Remove()

	var chunks []Chunk
	doc.Find("table").Each(func(i int, table *goquery.Selection) {
		content := renderHTMLTable(table)
		if content != "" {
			chunks = append(chunks, TableChunk(content, "", "", nil))
		}
		table.Remove()
	})

	prose := strings.TrimSpace(doc.Find("body").Text())
	if prose == "" {
		prose = strings.TrimSpace(doc.Text())
	}
	prose = collapseWhitespace(prose)
	chunks = append(chunks, WindowText(prose)...)

	if len(chunks) == 0 {
		return nil, common.E(common.KindParseError, "html contains no content")
	}
	return &Result{Format: FormatHTML, Chunks: reindex(chunks)}, nil
}

func renderHTMLTable(table *goquery.Selection) string {
	var b strings.Builder
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		var cells []string
		row.Find("th, td").Each(func(j int, cell *goquery.Selection) {
			cells = append(cells, collapseWhitespace(strings.TrimSpace(cell.Text())))
		})
		if len(cells) > 0 {
			b.WriteString(strings.Join(cells, " | "))
			b.WriteString("\n")
		}
	})
	return strings.TrimSpace(b.String())
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
