// Package guard is the single enforcement point that keeps answers from
// being read or written under a section id the catalog does not know.
package guard

import (
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"charter/api/internal/catalog"
)

var ErrUnknownSection = errors.New("unknown section")

// ValidationError describes rejected caller input.
type ValidationError struct {
	Field  string
	Value  string
	Caller string
	Err    error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s %q rejected (%s)", e.Caller, e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type Guard struct {
	catalog    *catalog.Catalog
	logger     *zap.Logger
	rejections atomic.Int64
}

func New(cat *catalog.Catalog, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{catalog: cat, logger: logger.Named("guard")}
}

// AssertValidSection reports whether sectionID belongs to the catalog. A
// rejection is logged with the calling context and counted; it never panics.
func (g *Guard) AssertValidSection(sectionID, caller string) bool {
	if g.catalog.Contains(sectionID) {
		return true
	}
	g.rejections.Add(1)
	g.logger.Warn("rejected unknown section",
		zap.String("section_id", sectionID),
		zap.String("caller", caller),
	)
	return false
}

// Check is AssertValidSection for callers that propagate errors.
func (g *Guard) Check(sectionID, caller string) error {
	if g.AssertValidSection(sectionID, caller) {
		return nil
	}
	return &ValidationError{Field: "section", Value: sectionID, Caller: caller, Err: ErrUnknownSection}
}

// Rejections is the number of rejected section ids since start.
func (g *Guard) Rejections() int64 {
	return g.rejections.Load()
}

// Reject logs and counts a rejection found by the caller (bad question id,
// slot index or response shape) and returns the matching error.
func (g *Guard) Reject(field, value, caller string, err error) error {
	g.rejections.Add(1)
	g.logger.Warn("rejected input",
		zap.String("field", field),
		zap.String("value", value),
		zap.String("caller", caller),
		zap.Error(err),
	)
	return &ValidationError{Field: field, Value: value, Caller: caller, Err: err}
}
