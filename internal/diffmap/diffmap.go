// Package diffmap parses unified-diff patches and maps new-file line numbers
// to diff position ordinals.
//
// Hosting platforms address inline review comments by "position": the
// sequential index of a line within a file's diff, starting at 1 on the line
// below the first hunk header. Subsequent hunk headers occupy a position of
// their own. The mapping is pure: identical patch text always yields an
// identical index.
package diffmap

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// LineKind tags a diff line as context, addition, or removal.
type LineKind int

const (
	Context LineKind = iota
	Add
	Remove
)

// Line is one parsed diff line with its old/new line numbers and position
// ordinal. OldLine is 0 for additions; NewLine is 0 for removals.
type Line struct {
	Kind     LineKind
	OldLine  int
	NewLine  int
	Position int
	Text     string // Line content without the leading marker.
}

// Hunk is one contiguous diff block described by an @@ header.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// FileIndex is the bidirectional mapping between new-file line numbers and
// diff position ordinals for a single file. Built once per file per review;
// read-only thereafter.
type FileIndex struct {
	Path  string
	Hunks []Hunk

	posByNewLine map[int]int
	newLineByPos map[int]int
}

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Build parses the unified-diff patch for one file and constructs its
// position index. The patch is the hunk sequence as served by hosting
// platforms: no file headers, each hunk introduced by an @@ line.
//
// An empty patch (binary or mode-only change) yields an index that resolves
// nothing. A patch whose first content line is not a hunk header is rejected.
func Build(path, patch string) (*FileIndex, error) {
	idx := &FileIndex{
		Path:         path,
		posByNewLine: make(map[int]int),
		newLineByPos: make(map[int]int),
	}
	if patch == "" {
		return idx, nil
	}

	var (
		cur      *Hunk
		oldLine  int
		newLine  int
		position int
	)

	flush := func() {
		if cur != nil {
			idx.Hunks = append(idx.Hunks, *cur)
		}
	}

	lines := strings.Split(patch, "\n")
	// A trailing newline in the patch produces one empty final element.
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	for i, raw := range lines {
		if m := hunkHeaderRe.FindStringSubmatch(raw); m != nil {
			flush()
			h := Hunk{
				OldStart: atoiDefault(m[1], 0),
				OldLines: atoiDefault(m[2], 1),
				NewStart: atoiDefault(m[3], 0),
				NewLines: atoiDefault(m[4], 1),
			}
			cur = &h
			oldLine = h.OldStart
			newLine = h.NewStart
			// The first header does not consume a position; every later
			// header does, per the platform addressing convention.
			if len(idx.Hunks) > 0 {
				position++
			}
			continue
		}

		if cur == nil {
			return nil, fmt.Errorf("diffmap: %s: line %d precedes first hunk header", path, i+1)
		}

		position++

		switch {
		case strings.HasPrefix(raw, "+"):
			l := Line{Kind: Add, NewLine: newLine, Position: position, Text: raw[1:]}
			cur.Lines = append(cur.Lines, l)
			idx.posByNewLine[newLine] = position
			idx.newLineByPos[position] = newLine
			newLine++
		case strings.HasPrefix(raw, "-"):
			cur.Lines = append(cur.Lines, Line{Kind: Remove, OldLine: oldLine, Position: position, Text: raw[1:]})
			oldLine++
		case strings.HasPrefix(raw, `\`):
			// "\ No newline at end of file": consumes a position, moves
			// neither line counter.
		default:
			// Context lines arrive with a leading space; tolerate a bare
			// empty string for blank context lines.
			text := raw
			if strings.HasPrefix(raw, " ") {
				text = raw[1:]
			}
			l := Line{Kind: Context, OldLine: oldLine, NewLine: newLine, Position: position, Text: text}
			cur.Lines = append(cur.Lines, l)
			idx.posByNewLine[newLine] = position
			idx.newLineByPos[position] = newLine
			oldLine++
			newLine++
		}
	}
	flush()

	return idx, nil
}

// Position resolves a new-file line number to its diff position ordinal.
// Lines that do not appear in the diff as an addition or context line are
// unmapped by construction.
func (fi *FileIndex) Position(newLine int) (int, bool) {
	p, ok := fi.posByNewLine[newLine]
	return p, ok
}

// NewLine is the inverse lookup, used for validation.
func (fi *FileIndex) NewLine(position int) (int, bool) {
	n, ok := fi.newLineByPos[position]
	return n, ok
}

// MappedLines reports how many new-file lines are addressable in this diff.
func (fi *FileIndex) MappedLines() int {
	return len(fi.posByNewLine)
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
