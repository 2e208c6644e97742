// Package chunker splits canonical markdown into bounded, contiguous
// chunks aligned to ATX section headers.
package chunker

import (
	"regexp"

	"github.com/seemantic/seemantic/pkg/model"
)

// atxHeaderPattern matches "#" through "######" at line start followed
// by a title on the same line.
var atxHeaderPattern = regexp.MustCompile(`(?m)^#{1,6}[ \t]+.+`)

// HeaderOffsets returns the byte offsets of all ATX headers in markdown,
// in document order.
func HeaderOffsets(markdown string) []int {
	matches := atxHeaderPattern.FindAllStringIndex(markdown, -1)
	offsets := make([]int, 0, len(matches))
	for _, m := range matches {
		offsets = append(offsets, m[0])
	}
	return offsets
}

// SectionStarts returns the start offsets of all sections: position 0
// (the prefix before the first header) plus every header offset.
func SectionStarts(markdown string) []int {
	offsets := HeaderOffsets(markdown)
	if len(offsets) == 0 || offsets[0] != 0 {
		offsets = append([]int{0}, offsets...)
	}
	return offsets
}

// Chunker splits markdown into chunks no longer than MaxChars,
// never crossing section boundaries.
type Chunker struct {
	maxChars int
}

// New creates a Chunker with the given per-chunk character budget.
func New(maxChars int) *Chunker {
	if maxChars < 1 {
		maxChars = 1
	}
	return &Chunker{maxChars: maxChars}
}

// Chunk partitions markdown into contiguous chunks covering
// [0, len(markdown)). Sections longer than MaxChars are split into
// consecutive fixed-size windows. Empty markdown yields a single
// empty chunk.
func (c *Chunker) Chunk(markdown string) []model.Chunk {
	if len(markdown) == 0 {
		return []model.Chunk{{Start: 0, End: 0}}
	}

	starts := SectionStarts(markdown)
	var chunks []model.Chunk
	for i, sectionStart := range starts {
		sectionEnd := len(markdown)
		if i+1 < len(starts) {
			sectionEnd = starts[i+1]
		}
		for off := sectionStart; off < sectionEnd; off += c.maxChars {
			end := off + c.maxChars
			if end > sectionEnd {
				end = sectionEnd
			}
			chunks = append(chunks, model.Chunk{Start: off, End: end})
		}
	}
	return chunks
}
