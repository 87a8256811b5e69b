// Package folding re-locates folded regions after an external rewrite moved them.
package folding

import "strings"

// Span is a byte range [Start, End) of a text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Refold finds each previously folded content in text, in order, searching forward
// from the end of the previous match. Contents that are empty or no longer occur are
// skipped and do not move the search position.
func Refold(foldedContents []string, text string) []Span {
	spans := []Span{}
	searchFrom := 0

	for _, content := range foldedContents {
		if content == "" {
			continue
		}

		index := strings.Index(text[searchFrom:], content)
		if index < 0 {
			continue
		}

		start := searchFrom + index
		end := start + len(content)
		spans = append(spans, Span{Start: start, End: end})
		searchFrom = end
	}

	return spans
}

// Contents returns the text covered by each span, the inverse of Refold. Spans
// outside text are ignored.
func Contents(spans []Span, text string) []string {
	contents := make([]string, 0, len(spans))
	for _, span := range spans {
		if span.Start < 0 || span.End > len(text) || span.Start >= span.End {
			continue
		}
		contents = append(contents, text[span.Start:span.End])
	}

	return contents
}
