package oci

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
)

const TitleAnnotation = "org.opencontainers.image.title"

var (
	ErrNoArchive      = errors.New("artifact has no module archive layer")
	ErrInvalidTitle   = errors.New("invalid layer title")
	ErrDigestMismatch = errors.New("layer digest mismatch")
)

// ArtifactSource abstracts where module artifacts come from.
type ArtifactSource interface {
	Fetch(ctx context.Context, outDir string) (*Artifact, error)
	Info() string
}

// Artifact is a module release archive and its detached signature on disk.
type Artifact struct {
	Ref    string
	Digest digest.Digest
	Zip    string
	Sig    string // empty when the artifact carries no signature layer
}

// selectLayers picks the archive and signature layers by title. Exactly one
// .zip layer is required; a signature layer is optional.
func selectLayers(layers []Layer) (zipLayer, sigLayer Layer, err error) {
	for _, l := range layers {
		title := l.Title()
		switch {
		case strings.HasSuffix(title, ".sig"):
			sigLayer = l
		case strings.HasSuffix(title, ".zip"):
			if zipLayer != nil {
				return nil, nil, fmt.Errorf("%w: more than one .zip layer", ErrNoArchive)
			}
			zipLayer = l
		}
	}
	if zipLayer == nil {
		return nil, nil, ErrNoArchive
	}
	return zipLayer, sigLayer, nil
}

// writeLayer stores the layer as outDir/<title>, verifying its digest while
// copying. The file only appears under its final name once verified.
func writeLayer(ctx context.Context, l Layer, outDir string) (string, error) {
	title := l.Title()
	base := filepath.Base(title)
	if title == "" || base != title || base == "." || base == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidTitle, title)
	}

	if err := l.Digest().Validate(); err != nil {
		return "", fmt.Errorf("layer %s: %w", base, err)
	}

	rc, err := l.Blob(ctx)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(outDir, "."+base+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file for %s: %w", base, err)
	}
	defer os.Remove(tmp.Name())

	verifier := l.Digest().Verifier()
	if _, err := io.Copy(io.MultiWriter(tmp, verifier), rc); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("download %s: %w", base, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", base, err)
	}
	if !verifier.Verified() {
		return "", fmt.Errorf("%w: %s (%s)", ErrDigestMismatch, base, l.Digest())
	}

	dst := filepath.Join(outDir, base)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("publish %s: %w", base, err)
	}
	return dst, nil
}
