// Package chunk splits source files into overlapping, line-addressed
// segments sized for embedding.
//
// Splitting prefers language-aware boundaries (function and class
// declarations, blank lines) before falling back to raw-width cuts, so
// a single syntactic unit is less likely to be severed across chunks.
package chunk

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrInvalidConfig indicates invalid chunker configuration.
var ErrInvalidConfig = errors.New("invalid chunker configuration")

// Defaults for the character budget and overlap.
const (
	DefaultSize    = 512
	DefaultOverlap = 64
)

// languageByExt maps supported file extensions to language tags.
var languageByExt = map[string]string{
	".py": "python",
	".js": "javascript",
	".ts": "typescript",
	".go": "go",
}

// separatorsByLanguage lists cut points in priority order. Earlier
// entries are preferred; the final fallback is a raw-width cut.
var separatorsByLanguage = map[string][]string{
	"python":     {"\nclass ", "\ndef ", "\n\tdef ", "\n    def ", "\n\n", "\n", " "},
	"go":         {"\nfunc ", "\ntype ", "\nconst ", "\nvar ", "\n\n", "\n", " "},
	"javascript": {"\nfunction ", "\nclass ", "\nexport ", "\nconst ", "\n\n", "\n", " "},
	"typescript": {"\nfunction ", "\nclass ", "\nexport ", "\ninterface ", "\nconst ", "\n\n", "\n", " "},
}

// SourceFile is a file read fresh from the repository for one run.
type SourceFile struct {
	Path     string
	Language string
	Content  string
}

// Chunk is a contiguous, line-addressed slice of a file's text.
//
// ID is a deterministic function of (file path, start line, end line),
// so re-chunking unchanged content yields the same ids and re-indexing
// is idempotent at the chunk level.
type Chunk struct {
	ID        string
	FilePath  string
	StartLine int
	EndLine   int
	Text      string
}

// Chunker splits file content into overlapping segments.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker with the given character budget and overlap.
// Zero values select the defaults.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size == 0 {
		size = DefaultSize
	}
	if overlap == 0 {
		overlap = DefaultOverlap
	}
	if size < 1 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", ErrInvalidConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, size)", ErrInvalidConfig, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Language returns the language tag for a path, or "" if unsupported.
func Language(path string) string {
	return languageByExt[strings.ToLower(filepath.Ext(path))]
}

// Supported reports whether the path has a supported extension.
func Supported(path string) bool {
	return Language(path) != ""
}

// NewSourceFile builds a SourceFile with its language tag derived from
// the path extension.
func NewSourceFile(path, content string) SourceFile {
	return SourceFile{Path: path, Language: Language(path), Content: content}
}

// ChunkID builds the deterministic chunk identifier.
func ChunkID(filePath string, startLine, endLine int) string {
	return fmt.Sprintf("%s::%d-%d", filePath, startLine, endLine)
}

// Chunk splits a file into overlapping segments.
//
// Unsupported languages and empty content yield no chunks; the caller's
// file selection already filters by extension, this is defensive.
func (c *Chunker) Chunk(file SourceFile) []Chunk {
	seps, ok := separatorsByLanguage[file.Language]
	if !ok || file.Content == "" {
		return nil
	}

	content := file.Content
	var chunks []Chunk

	start := 0
	for start < len(content) {
		end := c.cut(content, start, seps)
		text := content[start:end]

		startLine := 1 + strings.Count(content[:start], "\n")
		endLine := startLine + strings.Count(text, "\n")

		chunks = append(chunks, Chunk{
			ID:        ChunkID(file.Path, startLine, endLine),
			FilePath:  file.Path,
			StartLine: startLine,
			EndLine:   endLine,
			Text:      text,
		})

		if end >= len(content) {
			break
		}

		next := end - c.overlap
		if next <= start {
			// Overlap would revisit the previous start; give it up for
			// this boundary to guarantee forward progress.
			next = end
		}
		// Never start a chunk mid-rune.
		for next < len(content) && next > start && !utf8.RuneStart(content[next]) {
			next--
		}
		start = next
	}

	return chunks
}

// cut returns the end offset for a segment starting at start: the latest
// occurrence of the highest-priority separator within the size budget,
// falling back to a raw-width cut at a rune boundary.
//
// A separator match only counts when the resulting segment fills at
// least half the budget; otherwise a high-priority boundary near the
// window start would produce degenerate, near-empty segments.
func (c *Chunker) cut(content string, start int, seps []string) int {
	limit := start + c.size
	if limit >= len(content) {
		return len(content)
	}

	minCut := c.size / 2
	if minCut < 1 {
		minCut = 1
	}

	window := content[start:limit]
	for _, sep := range seps {
		// Cut just after the separator's first character so the
		// construct it introduces opens the next segment.
		if idx := strings.LastIndex(window, sep); idx+1 >= minCut {
			return start + idx + 1
		}
	}

	// Raw cut, adjusted back to a rune boundary.
	for limit > start+1 && !utf8.RuneStart(content[limit]) {
		limit--
	}
	return limit
}
