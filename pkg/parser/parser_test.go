package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seemantic/seemantic/pkg/model"
)

func TestDetectFileType(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		data    []byte
		want    FileType
		wantErr string
	}{
		{
			name: "markdown by extension",
			uri:  "notes/readme.md",
			data: []byte("# hello"),
			want: FileTypeMarkdown,
		},
		{
			name: "markdown long extension",
			uri:  "doc.markdown",
			data: []byte("text"),
			want: FileTypeMarkdown,
		},
		{
			name: "pdf by magic bytes regardless of extension",
			uri:  "scan.md",
			data: []byte("%PDF-1.7 rest"),
			want: FileTypePDF,
		},
		{
			name: "docx by zip magic and extension",
			uri:  "report.DOCX",
			data: []byte("PK\x03\x04rest"),
			want: FileTypeDocx,
		},
		{
			name:    "zip container without docx extension",
			uri:     "archive.zip",
			data:    []byte("PK\x03\x04rest"),
			wantErr: "unsupported filetype zip",
		},
		{
			name:    "unknown extension",
			uri:     "image.png",
			data:    []byte{0x89, 0x50, 0x4e, 0x47},
			wantErr: "unsupported filetype png",
		},
		{
			name:    "no extension",
			uri:     "LICENSE",
			data:    []byte("text"),
			wantErr: "unsupported filetype",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFileType(tt.uri, tt.data)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnsupportedType)
				assert.Equal(t, tt.wantErr, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMarkdown(t *testing.T) {
	p := New()

	t.Run("valid utf-8 passes through", func(t *testing.T) {
		parsed, err := p.Parse("a/b.md", []byte("# Title\nbody"))
		require.NoError(t, err)
		assert.Equal(t, "# Title\nbody", parsed.Markdown)
		assert.Equal(t, model.HashString("# Title\nbody"), parsed.Hash)
	})

	t.Run("empty file yields empty markdown", func(t *testing.T) {
		parsed, err := p.Parse("empty.md", nil)
		require.NoError(t, err)
		assert.Equal(t, "", parsed.Markdown)
	})

	t.Run("invalid utf-8 is a parse error", func(t *testing.T) {
		_, err := p.Parse("bad.md", []byte{0xff, 0xfe, 0x00})
		assert.ErrorIs(t, err, ErrParse)
	})

	t.Run("identical bytes hash identically", func(t *testing.T) {
		first, err := p.Parse("one.md", []byte("same content"))
		require.NoError(t, err)
		second, err := p.Parse("two.md", []byte("same content"))
		require.NoError(t, err)
		assert.Equal(t, first.Hash, second.Hash)
	})
}

func TestParseCorruptContainers(t *testing.T) {
	p := New()

	t.Run("pdf magic with garbage body", func(t *testing.T) {
		_, err := p.Parse("broken.pdf", []byte("%PDF-1.4 not really a pdf"))
		assert.ErrorIs(t, err, ErrParse)
	})

	t.Run("docx magic with garbage body", func(t *testing.T) {
		_, err := p.Parse("broken.docx", []byte("PK\x03\x04 not really a zip"))
		assert.ErrorIs(t, err, ErrParse)
	})
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "a\nb", normalizeText("a\r\nb"))
	assert.Equal(t, "trimmed", normalizeText("  trimmed \n"))
	assert.Equal(t, "", normalizeText(" \r\n "))
}
