package s3

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyJoinsPrefixWhenSet(t *testing.T) {
	s := New(nil, "bucket", "segments")
	assert.Equal(t, "segments/tables/t/a/1/raw.vec", s.key("tables/t/a/1/raw.vec"))
}

func TestKeyPassesThroughWithoutPrefix(t *testing.T) {
	s := New(nil, "bucket", "")
	assert.Equal(t, "tables/t/a/1/raw.vec", s.key("tables/t/a/1/raw.vec"))
}

func TestNewTrimsSlashesFromPrefix(t *testing.T) {
	s := New(nil, "bucket", "/segments/")
	assert.Equal(t, "segments", s.prefix)
}
