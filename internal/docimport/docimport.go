// Package docimport turns contact documents on disk into scan text.
package docimport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// MaxSize bounds the documents Load accepts.
const MaxSize = 10 << 20

// ErrUnsupported is returned for binary files that are not PDFs.
var ErrUnsupported = errors.New("unsupported document format")

// Format is the detected document format.
type Format string

const (
	FormatPDF   Format = "pdf"
	FormatVCard Format = "vcard"
	FormatText  Format = "text"
)

// Document is the text recovered from a file.
type Document struct {
	Path   string
	Format Format
	Text   string
}

// Load reads path and extracts its text.
func Load(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("opening document: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxSize+1))
	if err != nil {
		return Document{}, fmt.Errorf("reading document: %w", err)
	}
	if len(data) > MaxSize {
		return Document{}, fmt.Errorf("document %s exceeds %d bytes", filepath.Base(path), MaxSize)
	}
	doc, err := Parse(data)
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	doc.Path = path
	return doc, nil
}

// Parse extracts text from an in-memory document.
func Parse(data []byte) (Document, error) {
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		text, err := pdfText(data)
		if err != nil {
			return Document{}, err
		}
		return Document{Format: FormatPDF, Text: text}, nil
	}
	if !utf8.Valid(data) {
		return Document{}, ErrUnsupported
	}
	text := strings.TrimPrefix(string(data), "\ufeff")
	format := FormatText
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(text)), "BEGIN:VCARD") {
		format = FormatVCard
	}
	return Document{Format: format, Text: text}, nil
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	return buf.String(), nil
}
