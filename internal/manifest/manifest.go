// Package manifest models IIIF Presentation v2 manifests and persists them next to the artifacts they
// describe.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Manifest is the subset of a IIIF Presentation v2 manifest the harvester reads.
type Manifest struct {
	ID        string     `json:"@id,omitempty"`
	Label     Text       `json:"label"`
	Sequences []Sequence `json:"sequences"`
}

// Sequence orders the canvases of a manifest.
type Sequence struct {
	Canvases []Canvas `json:"canvases"`
}

// Canvas is one physical page. Its label identifies the page.
type Canvas struct {
	ID           string           `json:"@id,omitempty"`
	Label        Text             `json:"label"`
	Images       []Annotation     `json:"images"`
	OtherContent []AnnotationList `json:"otherContent"`
	SeeAlso      Links            `json:"seeAlso"`
}

// Annotation wraps a resource.
type Annotation struct {
	Resource Resource `json:"resource"`
}

// AnnotationList carries the supplementary resources of a canvas.
type AnnotationList struct {
	ID        string       `json:"@id,omitempty"`
	Resources []Annotation `json:"resources"`
}

// Resource is a downloadable representation.
type Resource struct {
	ID     string `json:"@id"`
	Format string `json:"format,omitempty"`
}

// Text is a IIIF label. Archives send plain strings, string lists or language-tagged values.
type Text string

// UnmarshalJSON accepts "x", ["x","y"], {"@value":"x"} and [{"@value":"x"}]; multiple values are
// joined with a space.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode label: %w", err)
		}
		*t = Text(s)
	case '{':
		var v struct {
			Value string `json:"@value"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decode label: %w", err)
		}
		*t = Text(v.Value)
	case '[':
		var items []Text
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("decode label: %w", err)
		}
		parts := make([]string, 0, len(items))
		for _, it := range items {
			if it != "" {
				parts = append(parts, string(it))
			}
		}
		*t = Text(strings.Join(parts, " "))
	default:
		*t = Text(strings.Trim(string(data), `"`))
	}
	return nil
}

// String returns the label text.
func (t Text) String() string {
	return string(t)
}

// Links is a seeAlso value, which may be a single object, a bare URL, or a list of either.
type Links []Resource

// UnmarshalJSON normalizes the accepted shapes to a slice.
func (l *Links) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	switch data[0] {
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("decode seeAlso: %w", err)
		}
		out := make(Links, 0, len(raw))
		for _, item := range raw {
			r, err := decodeLink(item)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		*l = out
	default:
		r, err := decodeLink(data)
		if err != nil {
			return err
		}
		*l = Links{r}
	}
	return nil
}

func decodeLink(data json.RawMessage) (Resource, error) {
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return Resource{}, fmt.Errorf("decode seeAlso: %w", err)
		}
		return Resource{ID: id}, nil
	}
	var r Resource
	if err := json.Unmarshal(data, &r); err != nil {
		return Resource{}, fmt.Errorf("decode seeAlso: %w", err)
	}
	return r, nil
}

// PageResource is a downloadable resource attributed to a canvas.
type PageResource struct {
	Label  string
	URL    string
	Format string
}

// Canvases returns every canvas across all sequences.
func (m *Manifest) Canvases() []Canvas {
	var out []Canvas
	for _, seq := range m.Sequences {
		out = append(out, seq.Canvases...)
	}
	return out
}

// Canvas finds the first canvas labelled label.
func (m *Manifest) Canvas(label string) (Canvas, bool) {
	for _, seq := range m.Sequences {
		for _, c := range seq.Canvases {
			if c.Label.String() == label {
				return c, true
			}
		}
	}
	return Canvas{}, false
}

// Resources lists every otherContent resource with the given format. A canvas may contribute more
// than one.
func (m *Manifest) Resources(format string) []PageResource {
	var out []PageResource
	for _, c := range m.Canvases() {
		for _, res := range c.Resources(format) {
			out = append(out, PageResource{Label: c.Label.String(), URL: res.ID, Format: res.Format})
		}
	}
	return out
}

// SeeAlso lists each canvas's seeAlso links. An empty format accepts every link.
func (m *Manifest) SeeAlso(format string) []PageResource {
	var out []PageResource
	for _, c := range m.Canvases() {
		for _, link := range c.SeeAlso {
			if link.ID == "" || (format != "" && link.Format != "" && link.Format != format) {
				continue
			}
			out = append(out, PageResource{Label: c.Label.String(), URL: link.ID, Format: link.Format})
		}
	}
	return out
}

// Resources returns the canvas's otherContent resources with the given format.
func (c Canvas) Resources(format string) []Resource {
	var out []Resource
	for _, list := range c.OtherContent {
		for _, a := range list.Resources {
			if a.Resource.ID != "" && a.Resource.Format == format {
				out = append(out, a.Resource)
			}
		}
	}
	return out
}

// FirstResource returns the first otherContent resource with the given format.
func (c Canvas) FirstResource(format string) (Resource, bool) {
	res := c.Resources(format)
	if len(res) == 0 {
		return Resource{}, false
	}
	return res[0], true
}

// FirstSeeAlso returns the first seeAlso link.
func (c Canvas) FirstSeeAlso() (Resource, bool) {
	for _, link := range c.SeeAlso {
		if link.ID != "" {
			return link, true
		}
	}
	return Resource{}, false
}

// FullRegion is the full-size rendition token of a IIIF image URL.
const FullRegion = "/full/full/"

// ImageURL returns the first image of the canvas with the full-size token replaced by region,
// e.g. "/full/,2400/".
func (c Canvas) ImageURL(region string) (string, bool) {
	for _, img := range c.Images {
		if img.Resource.ID != "" {
			return strings.ReplaceAll(img.Resource.ID, FullRegion, region), true
		}
	}
	return "", false
}
