// Package formatter turns fixed file content into LSP text edits.
package formatter

import (
	"context"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.lsp.dev/protocol"

	"github.com/cristianradulescu/phpcsfixer-formatter/internal/fixer"
	"github.com/cristianradulescu/phpcsfixer-formatter/internal/resolver"
)

// Provider formats buffer content for a file.
type Provider interface {
	Format(ctx context.Context, cfg *resolver.EffectiveConfig, ictx resolver.InvocationContext, content string) (*fixer.Outcome, error)
}

type Formatter struct {
	provider Provider
}

func NewFormatter(provider Provider) *Formatter {
	return &Formatter{
		provider: provider,
	}
}

// Format runs the provider on content and returns the edits that turn content into
// the formatted text, along with the provider's outcome.
func (f *Formatter) Format(ctx context.Context, cfg *resolver.EffectiveConfig, ictx resolver.InvocationContext, content string) ([]protocol.TextEdit, *fixer.Outcome, error) {
	outcome, err := f.provider.Format(ctx, cfg, ictx, content)
	if err != nil {
		return nil, outcome, err
	}

	return TextEdits(content, outcome.Formatted), outcome, nil
}

// TextEdits computes line-based edits from original to formatted. Ranges refer to
// original and do not overlap.
func TextEdits(original string, formatted string) []protocol.TextEdit {
	edits := []protocol.TextEdit{}
	if original == formatted {
		return edits
	}

	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(original, formatted)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	offset := 0
	var pending *protocol.TextEdit
	var pendingEnd int

	flush := func() {
		if pending != nil {
			pending.Range.End = PositionAt(original, pendingEnd)
			edits = append(edits, *pending)
			pending = nil
		}
	}

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			offset += len(d.Text)
		case diffmatchpatch.DiffDelete:
			if pending == nil {
				pending = &protocol.TextEdit{Range: protocol.Range{Start: PositionAt(original, offset)}}
				pendingEnd = offset
			}
			offset += len(d.Text)
			pendingEnd = offset
		case diffmatchpatch.DiffInsert:
			if pending == nil {
				pending = &protocol.TextEdit{Range: protocol.Range{Start: PositionAt(original, offset)}}
				pendingEnd = offset
			}
			pending.NewText += d.Text
		}
	}
	flush()

	return edits
}

// PositionAt converts a byte offset in text to a line and UTF-16 character position.
// Offsets past the end clamp to the end of text.
func PositionAt(text string, offset int) protocol.Position {
	if offset > len(text) {
		offset = len(text)
	}

	prefix := text[:offset]
	line := strings.Count(prefix, "\n")
	lineStart := strings.LastIndex(prefix, "\n") + 1

	character := 0
	for _, r := range prefix[lineStart:] {
		if r == utf8.RuneError {
			character++
			continue
		}
		character += len(utf16.Encode([]rune{r}))
	}

	return protocol.Position{Line: uint32(line), Character: uint32(character)}
}

// OffsetAt converts a line and UTF-16 character position in text to a byte offset.
func OffsetAt(text string, position protocol.Position) int {
	offset := 0
	for line := uint32(0); line < position.Line; line++ {
		next := strings.IndexByte(text[offset:], '\n')
		if next < 0 {
			return len(text)
		}
		offset += next + 1
	}

	units := uint32(0)
	for i, r := range text[offset:] {
		if units >= position.Character || r == '\n' {
			return offset + i
		}
		if r == utf8.RuneError {
			units++
			continue
		}
		units += uint32(len(utf16.Encode([]rune{r})))
	}

	return len(text)
}
