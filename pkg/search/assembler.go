package search

import (
	"sort"

	"github.com/seemantic/seemantic/pkg/chunker"
	"github.com/seemantic/seemantic/pkg/model"
)

// Passage is one contiguous span of a document returned to the caller,
// widened from raw chunk hits to full header sections.
type Passage struct {
	Span     model.Chunk `json:"span"`
	Content  string      `json:"content"`
	Distance float32     `json:"distance"`
}

// assemblePassages widens chunk hits to the header sections that
// contain them. Each section appears once, carrying the minimum
// distance of the hits that fall inside it, ordered by that distance.
// Adjacent sections are deliberately kept separate.
func assemblePassages(markdown string, hits []model.ChunkHit) []Passage {
	if len(hits) == 0 {
		return nil
	}

	starts := chunker.SectionStarts(markdown)
	// Sentinel so every section has an explicit end offset.
	bounds := append(append([]int(nil), starts...), len(markdown))

	best := make(map[int]float32)
	for _, hit := range hits {
		section := sectionIndex(starts, hit.Chunk.Start)
		if current, seen := best[section]; !seen || hit.Distance < current {
			best[section] = hit.Distance
		}
	}

	passages := make([]Passage, 0, len(best))
	for section, distance := range best {
		span := model.Chunk{Start: bounds[section], End: bounds[section+1]}
		passages = append(passages, Passage{
			Span:     span,
			Content:  span.Content(markdown),
			Distance: distance,
		})
	}
	sort.Slice(passages, func(i, j int) bool {
		if passages[i].Distance != passages[j].Distance {
			return passages[i].Distance < passages[j].Distance
		}
		return passages[i].Span.Start < passages[j].Span.Start
	})
	return passages
}

// sectionIndex locates the section containing the given offset.
// starts is sorted and always begins with an entry covering offset 0.
func sectionIndex(starts []int, offset int) int {
	i := sort.SearchInts(starts, offset+1) - 1
	if i < 0 {
		i = 0
	}
	return i
}
