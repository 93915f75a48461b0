package provider

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/codership/wsrep-lib/pkg/ids"
	bolt "go.etcd.io/bbolt"
)

// BoltFragmentStore is a concrete, bbolt-backed StorageService. Fragment
// storage's on-disk format is an implementation choice, not core
// replication behavior — this is a reference adapter kept in pkg/provider
// alongside the other example collaborators.
type BoltFragmentStore struct {
	db *bolt.DB
}

var fragmentsBucket = []byte("fragments")

// OpenBoltFragmentStore opens (creating if necessary) a bbolt-backed
// fragment store at path.
func OpenBoltFragmentStore(path string) (*BoltFragmentStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("provider: failed to open fragment store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(fragmentsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("provider: failed to init fragment store: %w", err)
	}
	return &BoltFragmentStore{db: db}, nil
}

// Close releases the underlying database handle.
func (b *BoltFragmentStore) Close() error { return b.db.Close() }

func fragmentKey(server ids.ServerID, trx ids.TransactionID, seq uint64) []byte {
	key := make([]byte, 0, ids.ServerIDLen+8+8)
	sb := server.Bytes()
	key = append(key, sb[:]...)
	var trxBuf, seqBuf [8]byte
	binary.BigEndian.PutUint64(trxBuf[:], uint64(trx))
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	key = append(key, trxBuf[:]...)
	key = append(key, seqBuf[:]...)
	return key
}

type fragmentRecord struct {
	Flags ids.Flags
	Data  []byte
}

// StartTransaction is a no-op: bbolt transactions are opened per call.
func (b *BoltFragmentStore) StartTransaction(*ids.WriteSetHandle) error { return nil }

// AppendFragment persists one fragment keyed by (server, trx, ordinal).
func (b *BoltFragmentStore) AppendFragment(server ids.ServerID, trx ids.TransactionID, flags ids.Flags, buf []byte) error {
	rec, err := json.Marshal(fragmentRecord{Flags: flags, Data: buf})
	if err != nil {
		return fmt.Errorf("provider: encode fragment: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(fragmentsBucket)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		return bucket.Put(fragmentKey(server, trx, seq), rec)
	})
}

// UpdateFragmentMeta is a no-op for the reference store: metadata lives in
// ids.WSMeta, carried by the caller, not persisted out-of-band here.
func (b *BoltFragmentStore) UpdateFragmentMeta(ids.WSMeta) error { return nil }

// Commit removes all fragments for the given transaction; called when the
// transaction commits or fully rolls back.
func (b *BoltFragmentStore) Commit(handle ids.WriteSetHandle, meta ids.WSMeta) error {
	return b.removeFragments(meta.Source.Server, handle.Trx)
}

// Rollback, for this reference store, also removes the fragments: a
// rolled-back streaming transaction has no surviving fragments either.
func (b *BoltFragmentStore) Rollback(handle ids.WriteSetHandle, meta ids.WSMeta) error {
	return b.removeFragments(meta.Source.Server, handle.Trx)
}

func (b *BoltFragmentStore) removeFragments(server ids.ServerID, trx ids.TransactionID) error {
	prefix := make([]byte, 0, ids.ServerIDLen+8)
	sb := server.Bytes()
	prefix = append(prefix, sb[:]...)
	var trxBuf [8]byte
	binary.BigEndian.PutUint64(trxBuf[:], uint64(trx))
	prefix = append(prefix, trxBuf[:]...)

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(fragmentsBucket)
		c := bucket.Cursor()
		var toDelete [][]byte
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			keyCopy := append([]byte(nil), k...)
			toDelete = append(toDelete, keyCopy)
		}
		for _, k := range toDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (b *BoltFragmentStore) StoreGlobals() {}
func (b *BoltFragmentStore) ResetGlobals() {}
