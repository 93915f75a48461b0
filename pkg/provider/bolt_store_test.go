package provider

import (
	"path/filepath"
	"testing"

	"github.com/codership/wsrep-lib/pkg/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func countFragments(t *testing.T, store *BoltFragmentStore) int {
	t.Helper()
	n := 0
	err := store.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(fragmentsBucket).ForEach(func(k, v []byte) error {
			n++
			return nil
		})
	})
	require.NoError(t, err)
	return n
}

func TestBoltFragmentStoreAppendAndCommitRemoves(t *testing.T) {
	store, err := OpenBoltFragmentStore(filepath.Join(t.TempDir(), "fragments.db"))
	require.NoError(t, err)
	defer store.Close()

	server, err := ids.NewServerIDFromBytes([]byte("server-1"))
	require.NoError(t, err)
	trx := ids.TransactionID(42)

	require.NoError(t, store.AppendFragment(server, trx, ids.FlagStartTransaction, []byte("frag-1")))
	require.NoError(t, store.AppendFragment(server, trx, 0, []byte("frag-2")))
	assert.Equal(t, 2, countFragments(t, store))

	handle := ids.WriteSetHandle{Trx: trx}
	meta := ids.WSMeta{Source: ids.SourceID{Server: server, Trx: trx}}
	require.NoError(t, store.Commit(handle, meta))

	assert.Equal(t, 0, countFragments(t, store))
}

func TestBoltFragmentStoreIsolatesByTransaction(t *testing.T) {
	store, err := OpenBoltFragmentStore(filepath.Join(t.TempDir(), "fragments.db"))
	require.NoError(t, err)
	defer store.Close()

	server, err := ids.NewServerIDFromBytes([]byte("server-1"))
	require.NoError(t, err)

	require.NoError(t, store.AppendFragment(server, ids.TransactionID(1), 0, []byte("a")))
	require.NoError(t, store.AppendFragment(server, ids.TransactionID(2), 0, []byte("b")))
	assert.Equal(t, 2, countFragments(t, store))

	require.NoError(t, store.Commit(ids.WriteSetHandle{Trx: ids.TransactionID(1)}, ids.WSMeta{Source: ids.SourceID{Server: server, Trx: ids.TransactionID(1)}}))
	assert.Equal(t, 1, countFragments(t, store))
}
