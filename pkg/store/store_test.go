package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeflow/pkg/types"
)

func backends(t *testing.T) map[string]KV {
	t.Helper()
	file, err := NewFileKV(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	level, err := NewMemLevelKV()
	require.NoError(t, err)
	t.Cleanup(func() { _ = level.Close() })
	return map[string]KV{"file": file, "leveldb": level}
}

func TestKVContract(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := kv.Get("missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, kv.Put("orders/b", []byte("2")))
			require.NoError(t, kv.Put("orders/a", []byte("1")))
			require.NoError(t, kv.Put("privacy/payload", []byte("{}")))

			v, err := kv.Get("orders/a")
			require.NoError(t, err)
			assert.Equal(t, "1", string(v))

			keys, err := kv.Keys("orders/")
			require.NoError(t, err)
			assert.Equal(t, []string{"orders/a", "orders/b"}, keys)

			require.NoError(t, kv.Delete("orders/a"))
			require.NoError(t, kv.Delete("orders/a"))
			_, err = kv.Get("orders/a")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestFileKVSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	kv, err := NewFileKV(path)
	require.NoError(t, err)
	require.NoError(t, kv.Put("k", []byte("v")))

	reopened, err := NewFileKV(path)
	require.NoError(t, err)
	v, err := reopened.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
}

func TestFileKVToleratesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	kv, err := NewFileKV(path)
	require.NoError(t, err)
	keys, err := kv.Keys("")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestScopedKeys(t *testing.T) {
	level, err := NewMemLevelKV()
	require.NoError(t, err)
	defer level.Close()

	alice := NewScoped(level, "0xalice")
	bob := NewScoped(level, "0xbob")
	require.NoError(t, alice.Put("orders/1", []byte("a")))
	require.NoError(t, bob.Put("orders/1", []byte("b")))

	v, err := alice.Get("orders/1")
	require.NoError(t, err)
	assert.Equal(t, "a", string(v))

	keys, err := bob.Keys("orders/")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders/1"}, keys)
}

func TestPayloadStore(t *testing.T) {
	level, err := NewMemLevelKV()
	require.NoError(t, err)
	defer level.Close()
	s := NewPayloadStore(level)
	ctx := context.Background()

	p, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, p)

	at := int64(1_700_000_600)
	require.NoError(t, s.Save(ctx, &types.PrivacyPayload{
		Verifier: "garaga", Nullifier: "0x1", Commitment: "0x2", NoteVersion: "v3",
		SpendableAtUnix: &at, Proof: []string{"0x3"}, PublicInputs: []string{"0x4"},
	}))
	p, err = s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, p.SpendableAtUnix)
	assert.Equal(t, at, *p.SpendableAtUnix)

	require.NoError(t, level.Put(payloadKey, []byte("garbage")))
	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, ErrCorrupt)

	require.NoError(t, s.Clear(ctx))
	p, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestOrderStoreDropsCorruptRecords(t *testing.T) {
	level, err := NewMemLevelKV()
	require.NoError(t, err)
	defer level.Close()
	s := NewOrderStore(level, nil)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &types.BridgeOrder{
		OrderID: "ord-1", Status: types.OrderPendingDeposit, LastUpdated: time.Unix(10, 0).UTC(),
	}))
	require.NoError(t, level.Put(orderPrefix+"ord-2", []byte("{")))

	orders, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "ord-1", orders[0].OrderID)

	_, err = level.Get(orderPrefix + "ord-2")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(ctx, "ord-1"))
	orders, err = s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)

	assert.Error(t, s.Save(ctx, &types.BridgeOrder{}))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("redis", "")
	assert.Error(t, err)
}
