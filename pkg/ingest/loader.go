// Package ingest turns documents into vector index entries: it extracts
// text from files by extension, splits the text into token windows, embeds
// each window, and upserts the vectors into a collection.
package ingest

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// Supported reports whether Load can extract text from the file.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".pdf", ".docx", ".xlsx":
		return true
	}
	return false
}

// Load extracts the text content of a document. The extension selects the
// extractor: .txt and .md are read as-is, .pdf, .docx, and .xlsx go through
// format-specific parsers.
func Load(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("ingest: reading %s: %w", path, err)
		}
		return string(data), nil
	case ".pdf":
		return loadPDF(path)
	case ".docx":
		return loadDocx(path)
	case ".xlsx":
		return loadXLSX(path)
	default:
		return "", fmt.Errorf("ingest: unsupported file type %q", ext)
	}
}

// loadPDF extracts plain text page by page. Pages that fail text extraction
// are skipped rather than failing the whole document.
func loadPDF(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("ingest: opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("ingest: stat %s: %w", path, err)
	}

	reader, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return "", fmt.Errorf("ingest: parsing pdf %s: %w", path, err)
	}

	var pages []string
	for n := 1; n <= reader.NumPage(); n++ {
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

func loadDocx(path string) (string, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("ingest: parsing docx %s: %w", path, err)
	}
	defer doc.Close()

	return docxText(doc.Editable().GetContent()), nil
}

// docxText pulls the visible text out of a word/document.xml payload.
// Runs inside w:t elements are collected, paragraph ends become blank
// lines, and w:br / w:tab become the characters they render as.
func docxText(document string) string {
	dec := xml.NewDecoder(strings.NewReader(document))
	var (
		b     strings.Builder
		inRun int
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inRun++
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				if inRun > 0 {
					inRun--
				}
			case "p":
				b.WriteString("\n\n")
			case "br":
				b.WriteString("\n")
			case "tab":
				b.WriteString("\t")
			}
		case xml.CharData:
			if inRun > 0 {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// loadXLSX renders each sheet as a "Sheet: <name>" header followed by one
// tab-joined line per non-empty row.
func loadXLSX(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("ingest: opening workbook %s: %w", path, err)
	}
	defer f.Close()

	var sheets []string
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return "", fmt.Errorf("ingest: reading sheet %s of %s: %w", name, path, err)
		}

		var lines []string
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
			if strings.TrimSpace(line) != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) == 0 {
			continue
		}
		sheets = append(sheets, "Sheet: "+name+"\n"+strings.Join(lines, "\n"))
	}
	return strings.Join(sheets, "\n\n"), nil
}
