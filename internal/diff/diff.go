// internal/diff/diff.go
package diff

import (
	"bytes"
	"fmt"
	"strings"

	diffpatch "github.com/sergi/go-diff/diffmatchpatch"
)

// LineType indicates whether a line was added, removed, or is context.
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

// Line is a single line in a diff. NoEOL marks the final line of a file
// that does not end with a newline.
type Line struct {
	Type    LineType
	Content string
	NoEOL   bool
}

// Hunk is a continuous section of changes with surrounding context.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// Engine produces unified diffs. Output is deterministic for a given pair
// of inputs, which the dist patch pipeline depends on.
type Engine struct {
	contextLines int
}

func NewEngine(contextLines int) *Engine {
	return &Engine{contextLines: contextLines}
}

// Hunks computes the hunks between two contents. Identical contents yield
// no hunks.
func (e *Engine) Hunks(oldContent, newContent []byte) []Hunk {
	if bytes.Equal(oldContent, newContent) {
		return nil
	}

	ops := e.lineOps(oldContent, newContent)

	// Line numbers each op starts at, 1-based.
	oldAt := make([]int, len(ops))
	newAt := make([]int, len(ops))
	o, n := 1, 1
	for i, op := range ops {
		oldAt[i], newAt[i] = o, n
		switch op.Type {
		case Context:
			o++
			n++
		case Deletion:
			o++
		case Addition:
			n++
		}
	}

	var hunks []Hunk
	i := 0
	for i < len(ops) {
		if ops[i].Type == Context {
			i++
			continue
		}

		start := i - e.contextLines
		if start < 0 {
			start = 0
		}

		// Extend through changes separated by at most 2*context lines.
		end := i + 1
		gap := 0
		for j := i + 1; j < len(ops); j++ {
			if ops[j].Type == Context {
				gap++
				continue
			}
			if gap > 2*e.contextLines {
				break
			}
			gap = 0
			end = j + 1
		}
		end += e.contextLines
		if end > len(ops) {
			end = len(ops)
		}

		hunk := Hunk{OldStart: oldAt[start], NewStart: newAt[start]}
		for _, op := range ops[start:end] {
			hunk.Lines = append(hunk.Lines, op)
			if op.Type != Addition {
				hunk.OldLines++
			}
			if op.Type != Deletion {
				hunk.NewLines++
			}
		}
		hunks = append(hunks, hunk)
		i = end
	}

	return hunks
}

// Unified renders a unified diff with the given file labels. Identical
// contents yield an empty string.
func (e *Engine) Unified(oldLabel, newLabel string, oldContent, newContent []byte) string {
	hunks := e.Hunks(oldContent, newContent)
	if len(hunks) == 0 {
		return ""
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "--- %s\n", oldLabel)
	fmt.Fprintf(&buf, "+++ %s\n", newLabel)

	for _, hunk := range hunks {
		fmt.Fprintf(&buf, "@@ -%s +%s @@\n",
			lineRange(hunk.OldStart, hunk.OldLines),
			lineRange(hunk.NewStart, hunk.NewLines))

		for _, line := range hunk.Lines {
			switch line.Type {
			case Addition:
				buf.WriteString("+")
			case Deletion:
				buf.WriteString("-")
			case Context:
				buf.WriteString(" ")
			}
			buf.WriteString(line.Content)
			buf.WriteString("\n")
			if line.NoEOL {
				buf.WriteString("\\ No newline at end of file\n")
			}
		}
	}

	return buf.String()
}

// IsBinary reports whether content looks like binary data. Binary outputs
// are recorded as whole-file differences rather than hunks.
func IsBinary(content []byte) bool {
	window := content
	if len(window) > 8000 {
		window = window[:8000]
	}
	return bytes.IndexByte(window, 0) >= 0
}

// lineOps flattens a line-mode diff into one op per line.
func (e *Engine) lineOps(oldContent, newContent []byte) []Line {
	dmp := diffpatch.New()
	c1, c2, lines := dmp.DiffLinesToChars(string(oldContent), string(newContent))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(c1, c2, false), lines)

	var ops []Line
	for _, d := range diffs {
		var typ LineType
		switch d.Type {
		case diffpatch.DiffInsert:
			typ = Addition
		case diffpatch.DiffDelete:
			typ = Deletion
		case diffpatch.DiffEqual:
			typ = Context
		}
		ops = append(ops, splitLines(typ, d.Text)...)
	}
	return ops
}

func splitLines(typ LineType, text string) []Line {
	if text == "" {
		return nil
	}
	hasEOL := strings.HasSuffix(text, "\n")
	parts := strings.Split(strings.TrimSuffix(text, "\n"), "\n")

	lines := make([]Line, len(parts))
	for i, p := range parts {
		lines[i] = Line{
			Type:    typ,
			Content: p,
			NoEOL:   !hasEOL && i == len(parts)-1,
		}
	}
	return lines
}

func lineRange(start, count int) string {
	if count == 0 {
		// Unified format shows the line before the hunk when nothing
		// remains on this side.
		return fmt.Sprintf("%d,0", start-1)
	}
	if count == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, count)
}
