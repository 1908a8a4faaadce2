// Package export renders a participant's charter as HTML, PDF or DOCX.
package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"charter/api/internal/catalog"
	"charter/api/internal/response"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat accepts a format name case-insensitively. Empty means PDF.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatPDF:
		return FormatPDF, nil
	case FormatHTML:
		return FormatHTML, nil
	case FormatDOCX:
		return FormatDOCX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
	}
}

// Profile is the family information printed on the charter.
type Profile struct {
	FamilyName    string
	DisplayName   string
	FamilyMembers []string
}

// Input is everything an export needs. Responses is a snapshot; the export
// never reads the live store.
type Input struct {
	Profile     Profile
	Responses   response.Sections
	Catalog     *catalog.Catalog
	GeneratedAt time.Time
}

type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat     = errors.New("unsupported export format")
	ErrMissingCatalog        = errors.New("export requires a catalog")
	ErrPDFDependencyMissing  = errors.New("export pdf dependency missing")
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
