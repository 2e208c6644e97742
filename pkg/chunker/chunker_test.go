package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seemantic/seemantic/pkg/model"
)

func TestHeaderOffsets(t *testing.T) {
	tests := []struct {
		name     string
		markdown string
		want     []int
	}{
		{
			name:     "no headers",
			markdown: "plain text\nno headers here",
			want:     []int{},
		},
		{
			name:     "header at start",
			markdown: "# Title\nbody",
			want:     []int{0},
		},
		{
			name:     "multiple levels",
			markdown: "intro\n# One\ntext\n## Two\nmore\n###### Six\nend",
			want:     []int{6, 17, 29},
		},
		{
			name:     "hash without space is not a header",
			markdown: "#NoSpace\ntext",
			want:     []int{},
		},
		{
			name:     "seven hashes is not a header",
			markdown: "####### Too deep\ntext",
			want:     []int{},
		},
		{
			name:     "hash mid-line is not a header",
			markdown: "see # this\ntext",
			want:     []int{},
		},
		{
			name:     "bare hash line is not a header",
			markdown: "#\ntext on the next line",
			want:     []int{},
		},
		{
			name:     "title must sit on the header line",
			markdown: "##\t\nindented continuation",
			want:     []int{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HeaderOffsets(tt.markdown))
		})
	}
}

func TestSectionStarts(t *testing.T) {
	t.Run("prefix before first header is a section", func(t *testing.T) {
		starts := SectionStarts("intro\n# One\nbody")
		assert.Equal(t, []int{0, 6}, starts)
	})

	t.Run("no duplicate zero when header starts the document", func(t *testing.T) {
		starts := SectionStarts("# One\nbody")
		assert.Equal(t, []int{0}, starts)
	})

	t.Run("headerless document is one section", func(t *testing.T) {
		starts := SectionStarts("just text")
		assert.Equal(t, []int{0}, starts)
	})
}

func TestChunk(t *testing.T) {
	t.Run("empty markdown yields a single empty chunk", func(t *testing.T) {
		chunks := New(100).Chunk("")
		assert.Equal(t, []model.Chunk{{Start: 0, End: 0}}, chunks)
	})

	t.Run("short document is one chunk", func(t *testing.T) {
		chunks := New(100).Chunk("short text")
		assert.Equal(t, []model.Chunk{{Start: 0, End: 10}}, chunks)
	})

	t.Run("long section splits into fixed windows", func(t *testing.T) {
		markdown := strings.Repeat("a", 25)
		chunks := New(10).Chunk(markdown)
		assert.Equal(t, []model.Chunk{
			{Start: 0, End: 10},
			{Start: 10, End: 20},
			{Start: 20, End: 25},
		}, chunks)
	})

	t.Run("chunks never cross section boundaries", func(t *testing.T) {
		markdown := "ab\n# One\ncd\n# Two\nef"
		chunks := New(1000).Chunk(markdown)
		require.Len(t, chunks, 3)
		assert.Equal(t, "ab\n", chunks[0].Content(markdown))
		assert.Equal(t, "# One\ncd\n", chunks[1].Content(markdown))
		assert.Equal(t, "# Two\nef", chunks[2].Content(markdown))
	})

	t.Run("chunks cover the document contiguously", func(t *testing.T) {
		markdown := "intro text\n# First\n" + strings.Repeat("x", 57) + "\n## Second\ntail"
		chunks := New(13).Chunk(markdown)
		require.NotEmpty(t, chunks)
		assert.Equal(t, 0, chunks[0].Start)
		assert.Equal(t, len(markdown), chunks[len(chunks)-1].End)
		for i := 1; i < len(chunks); i++ {
			assert.Equal(t, chunks[i-1].End, chunks[i].Start)
		}
		for _, chunk := range chunks {
			assert.LessOrEqual(t, chunk.End-chunk.Start, 13)
			assert.Greater(t, chunk.End, chunk.Start)
		}
	})
}
