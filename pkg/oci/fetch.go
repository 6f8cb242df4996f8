// Package oci pulls the module binary this runner serves. The artifact is
// expected to be a single-layer image whose layer media type is one of the
// wasm content types; the layer bytes are the module.
package oci

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
)

// RefScheme is stripped from image references before parsing; controllers
// hand the image down in Knative's oci:// form.
const RefScheme = "oci://"

const (
	MediaTypeWasm       = types.MediaType("application/wasm")
	MediaTypeWasmLayer  = types.MediaType("application/vnd.wasm.content.layer.v1+wasm")
	MediaTypeWasmModule = types.MediaType("application/vnd.module.wasm.content.layer.v1+wasm")
)

var acceptedMediaTypes = []types.MediaType{
	MediaTypeWasm,
	MediaTypeWasmLayer,
	MediaTypeWasmModule,
}

// Fetch pulls imageRef anonymously and returns the raw bytes of its single
// wasm layer. Pulls are anonymous only; registries requiring credentials
// fail the pull.
func Fetch(ctx context.Context, imageRef string) ([]byte, error) {
	imageRef = strings.TrimPrefix(imageRef, RefScheme)

	ref, err := name.ParseReference(imageRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseReference, err)
	}

	img, err := remote.Image(ref,
		remote.WithAuth(authn.Anonymous),
		remote.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPullImage, err)
	}

	layers, err := img.Layers()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPullImage, err)
	}
	if len(layers) != 1 {
		return nil, fmt.Errorf("%w: expected to have one layer, got %d", ErrLayerCount, len(layers))
	}
	layer := layers[0]

	mt, err := layer.MediaType()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadLayer, err)
	}
	if !accepted(mt) {
		return nil, fmt.Errorf("%w: %s", ErrMediaType, mt)
	}

	// Wasm content layers are stored as-is; Compressed is the blob as the
	// registry serves it.
	rc, err := layer.Compressed()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadLayer, err)
	}
	defer rc.Close()

	wasm, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadLayer, err)
	}
	return wasm, nil
}

func accepted(mt types.MediaType) bool {
	for _, want := range acceptedMediaTypes {
		if mt == want {
			return true
		}
	}
	return false
}
