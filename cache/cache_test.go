package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loaderFor(data map[string][]byte, calls *int) Loader {
	return func(ctx context.Context, key string) ([]byte, error) {
		*calls++
		d, ok := data[key]
		if !ok {
			return nil, errors.New("not found")
		}
		return d, nil
	}
}

func TestGetCachesOnSecondCall(t *testing.T) {
	c := New(1024)
	calls := 0
	load := loaderFor(map[string][]byte{"a": []byte("hello")}, &calls)

	h1, err := c.Get(context.Background(), "a", load)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), h1.Data())
	h1.Release()

	h2, err := c.Get(context.Background(), "a", load)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), h2.Data())
	h2.Release()

	assert.Equal(t, 1, calls, "second Get should hit the cache, not reload")
}

func TestGetEvictsLRUWhenUnpinned(t *testing.T) {
	c := New(10)
	calls := 0
	load := loaderFor(map[string][]byte{
		"a": []byte("0123456789"),
		"b": []byte("abcdefghij"),
	}, &calls)

	h1, err := c.Get(context.Background(), "a", load)
	require.NoError(t, err)
	h1.Release()

	h2, err := c.Get(context.Background(), "b", load)
	require.NoError(t, err)
	h2.Release()

	assert.Equal(t, int64(10), c.Size())
}

func TestGetExhaustedWhenAllPinned(t *testing.T) {
	c := New(10)
	calls := 0
	load := loaderFor(map[string][]byte{
		"a": []byte("0123456789"),
		"b": []byte("abcdefghij"),
	}, &calls)

	h1, err := c.Get(context.Background(), "a", load)
	require.NoError(t, err)
	defer h1.Release()

	_, err = c.Get(context.Background(), "b", load)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestInvalidateSkipsPinned(t *testing.T) {
	c := New(1024)
	calls := 0
	load := loaderFor(map[string][]byte{"a": []byte("hello")}, &calls)

	h, err := c.Get(context.Background(), "a", load)
	require.NoError(t, err)

	c.Invalidate("a")
	assert.Equal(t, int64(5), c.Size(), "pinned entry must not be evicted")

	h.Release()
	c.Invalidate("a")
	assert.Equal(t, int64(0), c.Size())
}

func TestSetCapacityEvictsDownToNewBudget(t *testing.T) {
	c := New(1024)
	calls := 0
	load := loaderFor(map[string][]byte{"a": []byte("0123456789")}, &calls)

	h, err := c.Get(context.Background(), "a", load)
	require.NoError(t, err)
	h.Release()

	c.SetCapacity(1)
	assert.Equal(t, int64(0), c.Size())
	assert.Equal(t, int64(1), c.Capacity())
}
