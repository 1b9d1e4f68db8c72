// Package extract turns uploaded files into plain text that can be relayed
// to the dialog provider. The type is sniffed from content with mimetype;
// file names and declared MIME types are only hints.
//
// Supported: text/* (including CSV), JSON, and DOCX. Images and PDFs are
// recognised but rejected with ErrUnsupported; OCR is not performed.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

var (
	// ErrUnsupported is returned for recognised but unhandled types.
	ErrUnsupported = errors.New("unsupported file type")
	// ErrTooLarge is returned when content exceeds the configured limit.
	ErrTooLarge = errors.New("file too large")
	// ErrEmpty is returned when no text could be extracted.
	ErrEmpty = errors.New("no text found")
)

const mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// Result is the outcome of a successful extraction.
type Result struct {
	Text string
	MIME string
}

// Extractor applies size limits and dispatches by detected type.
type Extractor struct {
	MaxImageBytes int64
	MaxDocBytes   int64
}

// New returns an Extractor with limits given in megabytes.
func New(maxImageMB, maxDocMB int) *Extractor {
	return &Extractor{
		MaxImageBytes: int64(maxImageMB) << 20,
		MaxDocBytes:   int64(maxDocMB) << 20,
	}
}

// Limit returns the byte limit for a file of the given declared kind.
func (e *Extractor) Limit(isImage bool) int64 {
	if isImage {
		return e.MaxImageBytes
	}
	return e.MaxDocBytes
}

// Extract sniffs data and returns its text.
func (e *Extractor) Extract(data []byte) (Result, error) {
	if len(data) == 0 {
		return Result{}, ErrEmpty
	}
	mt := mimetype.Detect(data)
	res := Result{MIME: mt.String()}

	switch {
	case isKind(mt, "image/"):
		if e.MaxImageBytes > 0 && int64(len(data)) > e.MaxImageBytes {
			return res, ErrTooLarge
		}
		return res, fmt.Errorf("%w: %s", ErrUnsupported, mt.String())
	case e.MaxDocBytes > 0 && int64(len(data)) > e.MaxDocBytes:
		return res, ErrTooLarge
	case mt.Is("application/pdf"):
		return res, fmt.Errorf("%w: %s", ErrUnsupported, mt.String())
	case mt.Is(mimeDOCX):
		text, err := docxText(data)
		if err != nil {
			return res, err
		}
		res.Text = text
	case isKind(mt, "text/"), mt.Is("application/json"):
		if !utf8.Valid(data) {
			return res, fmt.Errorf("%w: invalid utf-8", ErrUnsupported)
		}
		res.Text = string(data)
	default:
		return res, fmt.Errorf("%w: %s", ErrUnsupported, mt.String())
	}

	res.Text = strings.TrimSpace(res.Text)
	if res.Text == "" {
		return res, ErrEmpty
	}
	return res, nil
}

// isKind reports whether mt or any of its parents has the given prefix.
func isKind(mt *mimetype.MIME, prefix string) bool {
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), prefix) {
			return true
		}
	}
	return false
}

// docxText reads the paragraphs of word/document.xml.
func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("docx: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("docx: %w", err)
		}
		defer rc.Close()
		return wordprocessingText(rc)
	}
	return "", fmt.Errorf("docx: %w", ErrEmpty)
}

func wordprocessingText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		b      strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("docx: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}

// Fetcher downloads files with a size cap.
type Fetcher struct {
	HTTP *http.Client
}

// Fetch GETs url and returns at most max bytes; larger bodies yield ErrTooLarge.
func (f *Fetcher) Fetch(ctx context.Context, url string, max int64) ([]byte, error) {
	hc := f.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch: unexpected status %d", res.StatusCode)
	}
	if max > 0 && res.ContentLength > max {
		return nil, ErrTooLarge
	}
	r := io.Reader(res.Body)
	if max > 0 {
		r = io.LimitReader(res.Body, max+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if max > 0 && int64(len(data)) > max {
		return nil, ErrTooLarge
	}
	return data, nil
}
