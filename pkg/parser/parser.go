// Package parser converts raw document bytes of recognized file types
// into canonical markdown.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	"github.com/seemantic/seemantic/pkg/model"
)

// ErrUnsupportedType is returned for file types the parser does not
// recognize. Wrapped errors carry the offending extension.
var ErrUnsupportedType = errors.New("unsupported filetype")

// ErrParse is returned when recognized input cannot be parsed.
var ErrParse = errors.New("parse error")

// FileType is a recognized document format.
type FileType string

const (
	FileTypeMarkdown FileType = "md"
	FileTypeDocx     FileType = "docx"
	FileTypePDF      FileType = "pdf"
)

var (
	pdfMagic = []byte("%PDF-")
	zipMagic = []byte("PK\x03\x04")
)

// DetectFileType infers the file type from magic bytes, falling back
// to the URI's extension.
func DetectFileType(uri string, data []byte) (FileType, error) {
	if bytes.HasPrefix(data, pdfMagic) {
		return FileTypePDF, nil
	}
	if bytes.HasPrefix(data, zipMagic) {
		// docx is the only zip container we accept; reject other
		// office formats by extension below.
		if strings.ToLower(filepath.Ext(uri)) == ".docx" {
			return FileTypeDocx, nil
		}
	}

	switch ext := strings.ToLower(filepath.Ext(uri)); ext {
	case ".md", ".markdown":
		return FileTypeMarkdown, nil
	case ".docx":
		return FileTypeDocx, nil
	case ".pdf":
		return FileTypePDF, nil
	default:
		return "", fmt.Errorf("%w %s", ErrUnsupportedType, strings.TrimPrefix(ext, "."))
	}
}

// Parser converts document bytes into a ParsedDocument. Output is
// deterministic for fixed (filetype, bytes).
type Parser struct{}

// New creates a Parser.
func New() *Parser {
	return &Parser{}
}

// Parse detects the file type of data and converts it to canonical
// markdown, hashed into a ParsedDocument.
func (p *Parser) Parse(uri string, data []byte) (model.ParsedDocument, error) {
	fileType, err := DetectFileType(uri, data)
	if err != nil {
		return model.ParsedDocument{}, err
	}

	var markdown string
	switch fileType {
	case FileTypeMarkdown:
		markdown, err = parseMarkdown(data)
	case FileTypeDocx:
		markdown, err = parseDocx(data)
	case FileTypePDF:
		markdown, err = parsePDF(data)
	}
	if err != nil {
		return model.ParsedDocument{}, err
	}

	return model.NewParsedDocument(markdown), nil
}

func parseMarkdown(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: markdown is not valid utf-8", ErrParse)
	}
	return string(data), nil
}

func parseDocx(data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrParse, err)
	}
	defer doc.Close()

	content := doc.Editable().GetContent()
	return normalizeText(content), nil
}

func parsePDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrParse, err)
	}

	var parts []string
	totalPages := reader.NumPage()
	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %v", ErrParse, pageNum, err)
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}

	return normalizeText(strings.Join(parts, "\n\n")), nil
}

// normalizeText canonicalizes extracted text so that identical content
// always hashes identically.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSpace(s)
}
