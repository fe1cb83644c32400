package archive

import (
	"errors"
	"fmt"
)

// ErrUnparseablePath is returned when an artifact path does not follow the archive's layout.
var ErrUnparseablePath = errors.New("artifact path does not match source layout")

// RemoteError reports a failed request to a remote archive.
type RemoteError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("get %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("get %s: %v", e.URL, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// ManifestError reports a manifest the archive answered with but that carries no sequences.
type ManifestError struct {
	Item    string
	Message string
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("manifest for %s: %s", e.Item, e.Message)
}
