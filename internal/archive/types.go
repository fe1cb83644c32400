// Package archive defines the core types and ports shared by the harvesting pipeline.
package archive

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Kind identifies a remote archive. Its value doubles as the name of the archive's directory under the
// data root and as the source field of normalized records.
type Kind string

// Supported archives.
const (
	KindABO  Kind = "iiif.onb.ac.at"
	KindMDZ  Kind = "api.digitale-sammlungen.de"
	KindANNO Kind = "anno.onb.ac.at"
	KindBSB  Kind = "digipress.digitale-sammlungen.de"
)

var kindNames = map[string]Kind{
	"abo":  KindABO,
	"mdz":  KindMDZ,
	"anno": KindANNO,
	"bsb":  KindBSB,
}

// ParseKind accepts either the short configuration name (abo, mdz, anno, bsb) or the archive host.
func ParseKind(name string) (Kind, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if k, ok := kindNames[key]; ok {
		return k, nil
	}
	for _, k := range kindNames {
		if string(k) == key {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown source %q", name)
}

// ShortName returns the configuration name of the archive.
func (k Kind) ShortName() string {
	for name, kind := range kindNames {
		if kind == k {
			return name
		}
	}
	return string(k)
}

// Root returns the directory holding the archive's artifacts.
func (k Kind) Root(dataRoot string) string {
	return filepath.Join(dataRoot, string(k))
}

// Format is the on-disk kind of a raw artifact.
type Format string

// Artifact formats, named after the directory they live in.
const (
	FormatText Format = "txt"
	FormatHOCR Format = "hocr"
	FormatHTML Format = "html"
)

// Artifact is one raw page file on disk, tagged with the archive that produced it.
type Artifact struct {
	Source  Kind
	Path    string
	Project string
	Item    string
	Datum   string
	Page    string
	// Index is the 1-based position among same-labelled resources of a page. Zero means the first.
	Index  int
	Format Format
}

// Key addresses one fetchable unit (an item or a dated issue) in the fetch ledger.
type Key struct {
	Source Kind
	Scope  string
	ID     string
}

// String renders the key as a slash-separated path relative to the data root.
func (k Key) String() string {
	parts := []string{string(k.Source)}
	if k.Scope != "" {
		parts = append(parts, k.Scope)
	}
	return strings.Join(append(parts, k.ID), "/")
}

// Dir returns the key's item directory below dataRoot.
func (k Key) Dir(dataRoot string) string {
	return filepath.Join(dataRoot, filepath.FromSlash(k.String()))
}

// Status is the lifecycle state recorded in the fetch ledger.
type Status string

// Ledger status values. StatusAbsent means no record exists.
const (
	StatusAbsent   Status = ""
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Record is the normalized, source-independent document written to the output stream.
type Record struct {
	LocalPath       string  `json:"local_path"`
	Source          string  `json:"source"`
	TitleID         string  `json:"title_id"`
	TitleFull       string  `json:"title_full"`
	Datum           string  `json:"datum,omitempty"`
	PageNumber      string  `json:"page_number"`
	RemotePath      *string `json:"remote_path"`
	ImageURL        *string `json:"image_url"`
	OCRTextOriginal string  `json:"ocr_text_original"`
	OCRTextStripped string  `json:"ocr_text_stripped"`
}

// SetText stores the page text in both its original and newline-stripped forms.
func (r *Record) SetText(text string) {
	r.OCRTextOriginal = text
	r.OCRTextStripped = StripNewlines(text)
}

// StripNewlines removes every line feed from text. No other character is touched.
func StripNewlines(text string) string {
	return strings.ReplaceAll(text, "\n", "")
}

// FetchRequest names one unit of work for a source's fetch step.
// Min and Max bound dated sources inclusively; zero leaves a side open.
type FetchRequest struct {
	ID  string
	Min int64
	Max int64
}

// FetchReport counts the outcome of a fetch run.
type FetchReport struct {
	Source    Kind    `json:"source"`
	Attempted int     `json:"attempted"`
	Skipped   int     `json:"skipped"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	Errors    []error `json:"-"`
}

// Merge adds the counts and errors of other into r.
func (r *FetchReport) Merge(other FetchReport) {
	r.Attempted += other.Attempted
	r.Skipped += other.Skipped
	r.Succeeded += other.Succeeded
	r.Failed += other.Failed
	r.Errors = append(r.Errors, other.Errors...)
}

// Schema describes a sink collection.
type Schema struct {
	Name   string
	Fields []Field
}

// Field is one typed column of a sink collection.
type Field struct {
	Name     string
	Type     string
	Optional bool
	Locale   string
}
