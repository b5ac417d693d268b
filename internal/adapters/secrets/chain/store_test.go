package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "gmail://alice_at_gmail_com-9f3a/oauth_tokens"

type scriptedStore struct {
	getFn func(ctx context.Context, key string) (string, error)
	putFn func(ctx context.Context, key, value string) error
	delFn func(ctx context.Context, key string) error

	gets    int
	puts    int
	deletes int
}

func (s *scriptedStore) Get(ctx context.Context, key string) (string, error) {
	s.gets++
	if s.getFn == nil {
		return "", errors.New("unexpected Get")
	}
	return s.getFn(ctx, key)
}

func (s *scriptedStore) Put(ctx context.Context, key string, value string) error {
	s.puts++
	if s.putFn == nil {
		return errors.New("unexpected Put")
	}
	return s.putFn(ctx, key, value)
}

func (s *scriptedStore) Delete(ctx context.Context, key string) error {
	s.deletes++
	if s.delFn == nil {
		return errors.New("unexpected Delete")
	}
	return s.delFn(ctx, key)
}

func TestStoreGetUsesPrimaryWhenItSucceeds(t *testing.T) {
	t.Parallel()

	primary := &scriptedStore{getFn: func(_ context.Context, key string) (string, error) {
		assert.Equal(t, testKey, key)
		return "from-pass", nil
	}}
	fallback := &scriptedStore{}
	store := NewStore(primary, fallback)

	value, err := store.Get(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, "from-pass", value)
	assert.Zero(t, fallback.gets)
}

func TestStoreGetFallsBackWhenPrimaryFails(t *testing.T) {
	t.Parallel()

	primary := &scriptedStore{getFn: func(context.Context, string) (string, error) {
		return "", errors.New("pass unavailable")
	}}
	fallback := &scriptedStore{getFn: func(context.Context, string) (string, error) {
		return "from-file", nil
	}}
	store := NewStore(primary, fallback)

	value, err := store.Get(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, "from-file", value)
}

func TestStoreGetReturnsCombinedErrorWhenBothBackendsFail(t *testing.T) {
	t.Parallel()

	primary := &scriptedStore{getFn: func(context.Context, string) (string, error) {
		return "", errors.New("pass failed")
	}}
	fallback := &scriptedStore{getFn: func(context.Context, string) (string, error) {
		return "", errors.New("file failed")
	}}
	store := NewStore(primary, fallback)

	_, err := store.Get(context.Background(), testKey)
	require.Error(t, err)
	assert.ErrorContains(t, err, "primary backend")
	assert.ErrorContains(t, err, "fallback backend")
	assert.ErrorContains(t, err, "pass failed")
	assert.ErrorContains(t, err, "file failed")
}

func TestStorePutFallsBackWhenPrimaryFails(t *testing.T) {
	t.Parallel()

	primary := &scriptedStore{putFn: func(context.Context, string, string) error {
		return errors.New("pass failed")
	}}
	fallback := &scriptedStore{putFn: func(_ context.Context, key, value string) error {
		assert.Equal(t, testKey, key)
		assert.Equal(t, "secret", value)
		return nil
	}}
	store := NewStore(primary, fallback)

	require.NoError(t, store.Put(context.Background(), testKey, "secret"))
	assert.Equal(t, 1, fallback.puts)
}

func TestStorePutDoesNotCallFallbackWhenPrimarySucceeds(t *testing.T) {
	t.Parallel()

	primary := &scriptedStore{putFn: func(context.Context, string, string) error { return nil }}
	fallback := &scriptedStore{}
	store := NewStore(primary, fallback)

	require.NoError(t, store.Put(context.Background(), testKey, "secret"))
	assert.Zero(t, fallback.puts)
}

func TestStoreDeleteFallsBackWhenPrimaryFails(t *testing.T) {
	t.Parallel()

	primary := &scriptedStore{delFn: func(context.Context, string) error {
		return errors.New("pass failed")
	}}
	fallback := &scriptedStore{delFn: func(context.Context, string) error { return nil }}
	store := NewStore(primary, fallback)

	require.NoError(t, store.Delete(context.Background(), testKey))
	assert.Equal(t, 1, fallback.deletes)
}

func TestStoreDeleteDoesNotCallFallbackWhenPrimarySucceeds(t *testing.T) {
	t.Parallel()

	primary := &scriptedStore{delFn: func(context.Context, string) error { return nil }}
	fallback := &scriptedStore{}
	store := NewStore(primary, fallback)

	require.NoError(t, store.Delete(context.Background(), testKey))
	assert.Zero(t, fallback.deletes)
}

func TestStoreGetDoesNotFallbackOnCanceledContextError(t *testing.T) {
	t.Parallel()

	primary := &scriptedStore{getFn: func(context.Context, string) (string, error) {
		return "", context.Canceled
	}}
	fallback := &scriptedStore{}
	store := NewStore(primary, fallback)

	_, err := store.Get(context.Background(), testKey)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fallback.gets)
}
