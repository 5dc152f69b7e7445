// Package extractor opens compressed containers carried alongside plain
// fiscal documents and yields the raw XML payloads inside them.
package extractor

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/rezonia/nfe-collector/internal/model"
)

// zipMagic is the local-file-header signature of a ZIP container.
var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// Limits protecting against archive bombs.
const (
	DefaultMaxEntries    = 100
	DefaultMaxEntryBytes = 10 << 20
)

// Platform metadata artifacts that never contain documents.
var excludedNames = []string{"__MACOSX", ".DS_Store", "Thumbs.db", "desktop.ini"}

// EntryResult is the outcome for one archive entry. A failed entry
// carries Err and does not affect sibling entries.
type EntryResult struct {
	Name    string
	Content []byte
	Size    int64
	Err     error
}

// OK reports whether the entry was extracted successfully.
func (r EntryResult) OK() bool { return r.Err == nil }

// Extractor extracts document payloads from ZIP containers.
type Extractor struct {
	maxEntries    int
	maxEntryBytes int64
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithMaxEntries caps how many entries of one container are processed.
func WithMaxEntries(n int) ExtractorOption {
	return func(e *Extractor) { e.maxEntries = n }
}

// WithMaxEntryBytes caps the decompressed size of a single entry,
// independent of the container size.
func WithMaxEntryBytes(n int64) ExtractorOption {
	return func(e *Extractor) { e.maxEntryBytes = n }
}

// NewExtractor creates an extractor with default limits.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		maxEntries:    DefaultMaxEntries,
		maxEntryBytes: DefaultMaxEntryBytes,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsArchive sniffs the container magic number; the extension alone is
// not trusted.
func IsArchive(data []byte) bool {
	return len(data) >= len(zipMagic) && bytes.Equal(data[:len(zipMagic)], zipMagic)
}

// Extract returns the document entries of the container as a finite,
// eagerly-materialized list. A corrupt container yields a single
// synthetic error result; a bad entry yields an error result for that
// entry only.
func (e *Extractor) Extract(data []byte) []EntryResult {
	if !IsArchive(data) {
		return []EntryResult{{
			Name: "",
			Err:  model.NewExtractionError("", "not a zip container (bad magic number)", nil),
		}}
	}

	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return []EntryResult{{
			Name: "",
			Err:  model.NewExtractionError("", "corrupt zip container", err),
		}}
	}

	var results []EntryResult
	processed := 0
	for _, f := range r.File {
		if processed >= e.maxEntries {
			results = append(results, EntryResult{
				Name: f.Name,
				Err:  model.NewExtractionError(f.Name, fmt.Sprintf("entry cap of %d reached, remaining entries skipped", e.maxEntries), nil),
			})
			break
		}
		if f.FileInfo().IsDir() || isExcluded(f.Name) || !isDocumentEntry(f.Name) {
			continue
		}
		processed++
		results = append(results, e.extractEntry(f))
	}
	return results
}

func (e *Extractor) extractEntry(f *zip.File) EntryResult {
	result := EntryResult{Name: f.Name}

	if f.UncompressedSize64 > uint64(e.maxEntryBytes) {
		result.Err = model.NewExtractionError(f.Name,
			fmt.Sprintf("entry exceeds size cap (%d > %d bytes)", f.UncompressedSize64, e.maxEntryBytes), nil)
		return result
	}

	rc, err := f.Open()
	if err != nil {
		result.Err = model.NewExtractionError(f.Name, "failed to open entry", err)
		return result
	}
	defer rc.Close()

	// The declared size is attacker-controlled; cap the actual read too.
	content, err := io.ReadAll(io.LimitReader(rc, e.maxEntryBytes+1))
	if err != nil {
		result.Err = model.NewExtractionError(f.Name, "failed to read entry", err)
		return result
	}
	if int64(len(content)) > e.maxEntryBytes {
		result.Err = model.NewExtractionError(f.Name,
			fmt.Sprintf("entry exceeds size cap (%d bytes)", e.maxEntryBytes), nil)
		return result
	}

	result.Content = content
	result.Size = int64(len(content))
	return result
}

func isExcluded(name string) bool {
	for _, excluded := range excludedNames {
		if strings.Contains(name, excluded) {
			return true
		}
	}
	return false
}

func isDocumentEntry(name string) bool {
	return strings.EqualFold(path.Ext(name), ".xml")
}
