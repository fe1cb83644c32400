package archive

import (
	"context"
	"encoding/json"
	"io"
)

// Getter retrieves the body of a URL.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// LinkLister returns the raw href values of every anchor on a page.
type LinkLister interface {
	Links(ctx context.Context, url string) ([]string, error)
}

// Ledger records which items have already been fetched.
type Ledger interface {
	Status(ctx context.Context, key Key) (Status, error)
	IsFetched(ctx context.Context, key Key) (bool, error)
	Begin(ctx context.Context, key Key) error
	Complete(ctx context.Context, key Key) error
	Fail(ctx context.Context, key Key, reason string) error
	Close() error
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run summaries to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// HOCRConverter turns an hOCR document into plain text lines.
type HOCRConverter interface {
	Convert(ctx context.Context, hocr []byte) (string, error)
}

// Fetcher downloads raw artifacts for one request of its archive.
type Fetcher interface {
	Kind() Kind
	Fetch(ctx context.Context, req FetchRequest) (FetchReport, error)
}

// Processor turns the raw artifacts of its archive into records.
type Processor interface {
	Kind() Kind
	// ParseArtifact recovers the layout fields of a path relative to the archive root.
	ParseArtifact(rel string) (Artifact, error)
	// Process returns nil without error when the artifact should be skipped.
	Process(ctx context.Context, artifact Artifact) (*Record, error)
}

// Adapter is a source that can both fetch and normalize.
type Adapter interface {
	Fetcher
	Processor
}

// Enumerator lists the identifiers an archive publishes for a title.
type Enumerator interface {
	Kind() Kind
	Enumerate(ctx context.Context, titleID string) ([]string, error)
}

// Sink is a search backend that accepts bulk imports.
type Sink interface {
	Healthy(ctx context.Context) (bool, error)
	DeleteCollection(ctx context.Context, name string) error
	CreateCollection(ctx context.Context, schema Schema) error
	ImportBatch(ctx context.Context, collection string, docs []json.RawMessage) error
}
