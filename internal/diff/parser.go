// Package diff extracts changed file paths and added-line text from a
// unified diff.
//
// This is a syntactic reader: it recognizes "+++ b/<path>" file headers
// and "+" added lines, and ignores renames, binary markers, and hunk
// boundaries.
package diff

import (
	"regexp"
	"strings"
)

var fileHeaderPattern = regexp.MustCompile(`^\+\+\+ b/(.+)$`)

// Record is the parsed form of one diff: which files changed and what
// text was added, in original order. Immutable after Parse.
type Record struct {
	// ChangedFiles are the paths from "+++ b/" headers, in order of
	// first appearance, without duplicates.
	ChangedFiles []string

	// AddedLines are the added lines with the leading "+" stripped, in
	// original order.
	AddedLines []string
}

// Empty reports whether the record carries no changes.
func (r Record) Empty() bool {
	return len(r.ChangedFiles) == 0 && len(r.AddedLines) == 0
}

// Parse reads a unified diff. Input with no recognizable headers or
// added lines yields an empty record, not an error.
func Parse(diffText string) Record {
	var record Record
	seen := make(map[string]bool)

	for _, line := range strings.Split(diffText, "\n") {
		if m := fileHeaderPattern.FindStringSubmatch(line); m != nil {
			if !seen[m[1]] {
				seen[m[1]] = true
				record.ChangedFiles = append(record.ChangedFiles, m[1])
			}
			continue
		}
		if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
			record.AddedLines = append(record.AddedLines, line[1:])
		}
	}
	return record
}

// QueryText joins the added lines into one embeddable query string.
// Empty when the diff added nothing.
func (r Record) QueryText() string {
	return strings.Join(r.AddedLines, "\n")
}
