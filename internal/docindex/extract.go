package docindex

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
)

// Page is the extracted text of one page. Number is 1-based, or 0 when
// the format has no pages.
type Page struct {
	Number int
	Text   string
}

// contentTypes lists the accepted extensions.
var contentTypes = map[string]string{
	".txt":  "text/plain",
	".md":   "text/markdown",
	".json": "application/json",
	".html": "text/html",
	".htm":  "text/html",
	".pdf":  "application/pdf",
}

// ContentType returns the MIME type for filename's extension and whether
// the extension is accepted.
func ContentType(filename string) (string, bool) {
	ct, ok := contentTypes[strings.ToLower(filepath.Ext(filename))]
	return ct, ok
}

// Extract returns the text pages of data according to filename's extension.
func Extract(filename string, data []byte) ([]Page, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt", ".md":
		if !utf8.Valid(data) {
			return nil, &IngestError{Filename: filename, Reason: "text is not valid UTF-8"}
		}
		return []Page{{Text: string(data)}}, nil
	case ".json":
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return nil, &IngestError{Filename: filename, Reason: "invalid JSON", Err: err}
		}
		return []Page{{Text: buf.String()}}, nil
	case ".html", ".htm":
		text, err := extractHTML(data)
		if err != nil {
			return nil, &IngestError{Filename: filename, Reason: "unreadable HTML", Err: err}
		}
		return []Page{{Text: text}}, nil
	case ".pdf":
		pages, err := extractPDF(data)
		if err != nil {
			return nil, &IngestError{Filename: filename, Reason: "unreadable PDF", Err: err}
		}
		return pages, nil
	default:
		return nil, &IngestError{Filename: filename, Reason: "unsupported file type " + ext}
	}
}

var inlineSpace = regexp.MustCompile(`[ \t\r\n]+`)

// extractHTML keeps block structure as paragraph breaks so the chunker can
// split on them.
func extractHTML(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, nav, footer, header, aside").Remove()

	var blocks []string
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, pre, blockquote, td").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(inlineSpace.ReplaceAllString(s.Text(), " ")); t != "" {
			blocks = append(blocks, t)
		}
	})
	if len(blocks) == 0 {
		return strings.TrimSpace(inlineSpace.ReplaceAllString(doc.Find("body").Text(), " ")), nil
	}
	return strings.Join(blocks, "\n\n"), nil
}

func extractPDF(data []byte) ([]Page, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	var pages []Page
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, err
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}
