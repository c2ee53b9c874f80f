package oci

import (
	"context"
	"io"

	"github.com/opencontainers/go-digest"
)

// Layer is a single blob of a module artifact.
type Layer interface {
	Digest() digest.Digest
	Size() int64
	MediaType() string
	// Title is the file name recorded in the org.opencontainers.image.title
	// annotation, empty when the layer has none.
	Title() string
	// Blob returns the raw layer bytes. The caller must close the reader.
	Blob(ctx context.Context) (io.ReadCloser, error)
}
