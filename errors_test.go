package vecengine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nanovec/vecengine/cache"
	"github.com/nanovec/vecengine/index"
)

func TestCodedErrorFormatsWithAndWithoutCause(t *testing.T) {
	bare := &CodedError{Code: CodeTableNotFound, Message: "table not found"}
	assert.Equal(t, "table not found", bare.Error())

	wrapped := &CodedError{Code: CodeTableNotFound, Message: "table not found", Cause: ErrTableNotFound}
	assert.Contains(t, wrapped.Error(), "table not found")
	assert.True(t, errors.Is(wrapped, ErrTableNotFound))
}

func TestTranslateErrorMapsLowerLayerSentinels(t *testing.T) {
	cases := []struct {
		name string
		in   error
		code Code
	}{
		{"dimension mismatch", index.ErrDimensionMismatch, CodeDimensionMismatch},
		{"id not found", index.ErrIDNotFound, CodeIDNotFound},
		{"not trained", index.ErrNotTrained, CodeIndexNotFound},
		{"gpu unsupported", index.ErrGPUUnsupported, CodeUnsupported},
		{"corrupt", index.ErrCorrupt, CodeCorrupt},
		{"cache exhausted", cache.ErrExhausted, CodeCacheExhausted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := translateError("vecs", tc.in)
			var coded *CodedError
			assert.ErrorAs(t, got, &coded)
			assert.Equal(t, tc.code, coded.Code)
		})
	}
}

func TestTranslateErrorPassesThroughUnknownErrors(t *testing.T) {
	other := errors.New("boom")
	assert.Same(t, other, translateError("vecs", other))
}

func TestTranslateErrorNilIsNil(t *testing.T) {
	assert.NoError(t, translateError("vecs", nil))
}
