package index

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nanovec/vecengine/core"
)

type stubIndex struct{ Index }

func TestRegistryNewDispatchesToRegisteredFamily(t *testing.T) {
	r := NewRegistry()
	want := &stubIndex{}
	r.Register(core.IndexFlat, Family{
		New:  func(spec Spec) Index { return want },
		Load: func(r io.Reader, spec Spec) (Index, error) { return want, nil },
	})

	got, ok := r.New(Spec{Kind: core.IndexFlat})
	assert.True(t, ok)
	assert.Same(t, Index(want), got)
}

func TestRegistryNewUnregisteredKindReturnsFalse(t *testing.T) {
	r := NewRegistry()
	_, ok := r.New(Spec{Kind: core.IndexIVFPQ})
	assert.False(t, ok)
}

func TestRegistryLoaderForUnregisteredKindReturnsFalse(t *testing.T) {
	r := NewRegistry()
	_, ok := r.LoaderFor(core.IndexIVFPQ)
	assert.False(t, ok)
}

func TestRegistryLoaderForReturnsRegisteredLoader(t *testing.T) {
	r := NewRegistry()
	want := &stubIndex{}
	r.Register(core.IndexFlat, Family{
		New:  func(spec Spec) Index { return want },
		Load: func(r io.Reader, spec Spec) (Index, error) { return want, nil },
	})

	loader, ok := r.LoaderFor(core.IndexFlat)
	assert.True(t, ok)
	got, err := loader(nil, Spec{})
	assert.NoError(t, err)
	assert.Same(t, Index(want), got)
}
