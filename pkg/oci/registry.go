package oci

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/opencontainers/go-digest"
)

// RegistrySource fetches module artifacts pushed to an OCI registry, e.g. with
// `oras push ghcr.io/owner/bcr:1.0 BCR.zip BCR.zip.sig`. Each file is a layer
// whose name is kept in the title annotation.
//
// Layer content is only downloaded by Fetch.
type RegistrySource struct {
	ref    name.Reference
	logger *slog.Logger
}

// NewRegistrySource creates a source for ref. ref can be:
//   - "bcr:1.0" (defaults to docker.io/library)
//   - "owner/bcr:1.0" (defaults to docker.io)
//   - "ghcr.io/owner/bcr:1.0"
//   - "localhost:5000/bcr:1.0"
func NewRegistrySource(ref string) (*RegistrySource, error) {
	normalized := ref
	if !strings.Contains(ref, "/") {
		normalized = "docker.io/library/" + ref
	} else if first := strings.Split(ref, "/")[0]; !strings.Contains(first, ".") && !strings.Contains(first, ":") && first != "localhost" {
		// first component has no dots or colons, so it is not a registry host
		normalized = "docker.io/" + ref
	}

	parsed, err := name.ParseReference(normalized)
	if err != nil {
		return nil, fmt.Errorf("invalid artifact reference: %w", err)
	}

	return &RegistrySource{
		ref:    parsed,
		logger: slog.Default(),
	}, nil
}

func (s *RegistrySource) Info() string {
	return s.ref.String()
}

// Fetch downloads the archive and signature layers into outDir.
func (s *RegistrySource) Fetch(ctx context.Context, outDir string) (*Artifact, error) {
	s.logger.InfoContext(ctx, "fetching module artifact", "ref", s.Info())

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	img, err := remote.Image(s.ref,
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(authn.DefaultKeychain),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}

	dgst, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("get artifact digest: %w", err)
	}

	manifest, err := img.Manifest()
	if err != nil {
		return nil, fmt.Errorf("get manifest: %w", err)
	}

	layers := make([]Layer, 0, len(manifest.Layers))
	for _, desc := range manifest.Layers {
		layers = append(layers, &registryLayer{img: img, desc: desc})
	}

	zipLayer, sigLayer, err := selectLayers(layers)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Info(), err)
	}

	artifact := &Artifact{
		Ref:    s.Info(),
		Digest: digest.Digest(dgst.String()),
	}

	if artifact.Zip, err = writeLayer(ctx, zipLayer, outDir); err != nil {
		return nil, err
	}
	if sigLayer != nil {
		if artifact.Sig, err = writeLayer(ctx, sigLayer, outDir); err != nil {
			return nil, err
		}
	}

	s.logger.InfoContext(ctx, "module artifact fetched",
		"digest", artifact.Digest,
		"zip", artifact.Zip,
		"sig", artifact.Sig)

	return artifact, nil
}

// registryLayer resolves its blob lazily through the image it belongs to.
type registryLayer struct {
	img  v1.Image
	desc v1.Descriptor
}

func (l *registryLayer) Digest() digest.Digest {
	return digest.Digest(l.desc.Digest.String())
}

func (l *registryLayer) Size() int64 {
	return l.desc.Size
}

func (l *registryLayer) MediaType() string {
	return string(l.desc.MediaType)
}

func (l *registryLayer) Title() string {
	return l.desc.Annotations[TitleAnnotation]
}

func (l *registryLayer) Blob(ctx context.Context) (io.ReadCloser, error) {
	layer, err := l.img.LayerByDigest(l.desc.Digest)
	if err != nil {
		return nil, fmt.Errorf("get layer %s: %w", l.desc.Digest, err)
	}
	reader, err := layer.Compressed()
	if err != nil {
		return nil, fmt.Errorf("get layer blob: %w", err)
	}
	return reader, nil
}

var _ ArtifactSource = (*RegistrySource)(nil)
