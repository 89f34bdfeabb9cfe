package images_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kyc-worker-service/internal/storage/images"
)

func TestStore_PutGet(t *testing.T) {
	s, err := images.New(t.TempDir())
	require.NoError(t, err)

	ref, err := s.Put([]byte("front-bytes"))
	require.NoError(t, err)

	want, err := images.Ref([]byte("front-bytes"))
	require.NoError(t, err)
	assert.Equal(t, want, ref)

	got, err := s.Get(ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("front-bytes"), got)

	// same content, same reference
	again, err := s.Put([]byte("front-bytes"))
	require.NoError(t, err)
	assert.Equal(t, ref, again)
}

func TestStore_GetMissing(t *testing.T) {
	s, err := images.New(t.TempDir())
	require.NoError(t, err)

	ref, err := images.Ref([]byte("never stored"))
	require.NoError(t, err)

	_, err = s.Get(ref)
	assert.ErrorIs(t, err, images.ErrNotFound)
}

func TestStore_RejectsNonCIDReference(t *testing.T) {
	s, err := images.New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get("../../etc/passwd")
	assert.ErrorIs(t, err, images.ErrInvalidRef)
}
