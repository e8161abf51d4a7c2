package pipeline

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/Techinsane-official/scrapper/models"
)

// maxTitleWidth caps the title column of the review table.
const maxTitleWidth = 48

// RenderTable writes rows as a pipe table padded by display width, so titles
// with wide characters stay aligned.
func RenderTable(w io.Writer, header []string, rows [][]string) error {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = max(3, runewidth.StringWidth(h))
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], runewidth.StringWidth(row[i]))
		}
	}

	line := func(cells []string) string {
		var sb strings.Builder
		sb.WriteString("|")
		for i, width := range widths {
			content := ""
			if i < len(cells) {
				content = cells[i]
			}
			sb.WriteString(" ")
			sb.WriteString(runewidth.FillRight(content, width))
			sb.WriteString(" |")
		}
		return sb.String()
	}

	sep := make([]string, len(widths))
	for i, width := range widths {
		sep[i] = strings.Repeat("-", width)
	}

	lines := []string{line(header), line(sep)}
	for _, row := range rows {
		lines = append(lines, line(row))
	}
	_, err := io.WriteString(w, strings.Join(lines, "\n")+"\n")
	return err
}

// RenderReviewQueue lists candidates held for review.
func RenderReviewQueue(w io.Writer, decisions []models.MergeDecision) error {
	rows := make([][]string, 0, len(decisions))
	for _, d := range decisions {
		if d.Candidate == nil {
			continue
		}
		rows = append(rows, []string{
			d.Candidate.Key().String(),
			runewidth.Truncate(d.Candidate.Title, maxTitleWidth, "..."),
			d.MatchedCatalogID,
			strconv.FormatFloat(d.Similarity, 'f', 2, 64),
			d.Reason,
		})
	}
	return RenderTable(w, []string{"listing", "title", "matched", "similarity", "reason"}, rows)
}

// RenderStats writes the pipeline counters as a two-column table.
func RenderStats(w io.Writer, s Stats) error {
	rows := [][]string{
		{"batches", strconv.Itoa(s.Batches)},
		{"partial batches", strconv.Itoa(s.PartialBatches)},
		{"records", strconv.Itoa(s.Records)},
		{"new", strconv.Itoa(s.New)},
		{"merged", strconv.Itoa(s.Merged)},
		{"price changes", strconv.Itoa(s.PriceChanges)},
		{"held for review", strconv.Itoa(s.Review)},
		{"rejected", strconv.Itoa(s.Rejected)},
		{"failed", strconv.Itoa(s.Failed)},
	}
	for _, field := range sortedKeys(s.RejectsByField) {
		rows = append(rows, []string{fmt.Sprintf("rejected: missing %s", field), strconv.Itoa(s.RejectsByField[field])})
	}
	return RenderTable(w, []string{"metric", "count"}, rows)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
