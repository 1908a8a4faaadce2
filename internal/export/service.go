package export

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	mimeHTML = "text/html; charset=utf-8"
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

type renderFunc func(ctx context.Context, html string) ([]byte, error)

type Service struct {
	logger *zap.Logger
	pdf    renderFunc
	docx   renderFunc
	now    func() time.Time
}

func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		logger: logger.Named("export"),
		pdf:    renderPDF,
		docx:   renderDOCX,
		now:    time.Now,
	}
}

// Export renders the charter in the requested format.
func (s *Service) Export(ctx context.Context, in Input, format Format) (*Result, error) {
	if in.GeneratedAt.IsZero() {
		in.GeneratedAt = s.now().UTC()
	}
	data, err := BuildTemplateData(in)
	if err != nil {
		return nil, err
	}
	html, err := RenderCharterHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	base := sanitizeFilename(data.Title)
	start := time.Now()
	var result *Result
	switch format {
	case FormatHTML:
		result = &Result{Data: []byte(html), Filename: base + ".html", MimeType: mimeHTML}
	case FormatPDF:
		out, err := s.pdf(ctx, html)
		if err != nil {
			return nil, err
		}
		result = &Result{Data: out, Filename: base + ".pdf", MimeType: mimePDF}
	case FormatDOCX:
		out, err := s.docx(ctx, html)
		if err != nil {
			return nil, err
		}
		result = &Result{Data: out, Filename: base + ".docx", MimeType: mimeDOCX}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	s.logger.Info("charter exported",
		zap.String("format", string(format)),
		zap.Int("bytes", len(result.Data)),
		zap.Int("completion", data.Overall.Percentage),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}
