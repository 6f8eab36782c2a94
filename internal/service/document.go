package service

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// Supported upload media types.
const (
	mediaPDF      = "application/pdf"
	mediaDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mediaMSWord   = "application/msword"
	mediaText     = "text/plain"
	mediaMarkdown = "text/markdown"
)

var supportedMedia = []string{mediaPDF, mediaDOCX, mediaMSWord, mediaText, mediaMarkdown}

// documentText converts raw document bytes of a supported media type to text.
func documentText(mediaType string, b []byte) (string, error) {
	switch mediaType {
	case mediaPDF:
		return pdfText(b)
	case mediaDOCX, mediaMSWord:
		// Legacy .doc is only readable when it is really a DOCX container.
		return docxText(b)
	default:
		return plainText(b), nil
	}
}

func plainText(b []byte) string {
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
	if utf8.Valid(b) {
		return string(b)
	}
	// Latin-1: every byte is the code point of the same value.
	var sb strings.Builder
	sb.Grow(len(b) * 2)
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

// pdfText extracts the text of every page, each preceded by a page marker.
func pdfText(b []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("read pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		s, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("read pdf page %d: %w", i, err)
		}
		if s = strings.TrimSpace(s); s != "" {
			pages = append(pages, fmt.Sprintf("--- Page %d ---\n%s", i, s))
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

// docxText extracts paragraphs and table rows from word/document.xml in
// document order. Table cells are joined by tabs, one row per block.
func docxText(b []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	f, err := zr.Open("word/document.xml")
	if err != nil {
		return "", fmt.Errorf("open docx body: %w", err)
	}
	defer f.Close()

	var (
		blocks []string
		para   strings.Builder
		cell   []string
		row    []string
		tables int
		inText bool
	)
	dec := xml.NewDecoder(f)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse docx body: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte('\n')
			case "tbl":
				tables++
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				s := para.String()
				para.Reset()
				if tables > 0 {
					cell = append(cell, s)
				} else if strings.TrimSpace(s) != "" {
					blocks = append(blocks, s)
				}
			case "tc":
				row = append(row, strings.Join(cell, "\n"))
				cell = nil
			case "tr":
				if s := strings.Join(row, "\t"); strings.TrimSpace(s) != "" {
					blocks = append(blocks, s)
				}
				row = nil
			case "tbl":
				tables--
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	return strings.Join(blocks, "\n\n"), nil
}
