package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptionsEnabled(t *testing.T) {
	assert.False(t, Options{}.Enabled())
	assert.False(t, Options{Endpoint: "localhost:9000"}.Enabled())
	assert.True(t, Options{Endpoint: "localhost:9000", Bucket: "vigil-files"}.Enabled())
}

func TestDiscardStore(t *testing.T) {
	var store Discard
	ctx := context.Background()
	assert.NoError(t, store.Put(ctx, "k", strings.NewReader("payload"), 7, ""))
	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.NoError(t, store.Delete(ctx, "k"))
}
