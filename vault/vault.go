// Package vault stores named key material in a BadgerDB database so callers
// can manage more than one key without loose key files.
package vault

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"chunkcrypt/crypt"
)

const keyPrefix = "key:"

// recordSize is the fixed value layout: key, base nonce, creation time.
const recordSize = crypt.MaterialSize + 8

// ErrNotFound is returned when the named key material does not exist.
var ErrNotFound = errors.New("key material not found")

type Vault struct {
	db  *badger.DB
	log *logrus.Logger
}

// KeyInfo describes a stored key without exposing its material.
type KeyInfo struct {
	Name    string
	Created int64
}

// Open opens or creates a vault at dir.
func Open(dir string, logger *logrus.Logger) (*Vault, error) {
	if logger == nil {
		logger = logrus.New()
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	opts.SyncWrites = true // key material must reach disk before we report success

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening vault at %s: %w", dir, err)
	}

	return &Vault{db: db, log: logger}, nil
}

func (v *Vault) Close() error {
	return v.db.Close()
}

// Put stores key material under name, overwriting any previous entry.
func (v *Vault) Put(name string, km *crypt.KeyMaterial) error {
	if err := checkName(name); err != nil {
		return err
	}

	record := encodeRecord(km, time.Now().Unix())
	err := v.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+name), record)
	})
	if err != nil {
		return fmt.Errorf("storing key material %q: %w", name, err)
	}

	v.log.WithField("name", name).Debug("stored key material")
	return nil
}

// Get loads the key material stored under name.
func (v *Vault) Get(name string) (*crypt.KeyMaterial, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	var km *crypt.KeyMaterial
	err := v.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + name))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("%w: %q", ErrNotFound, name)
			}
			return fmt.Errorf("reading key material %q: %w", name, err)
		}
		return item.Value(func(val []byte) error {
			km, _, err = decodeRecord(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return km, nil
}

// Delete removes the named key material. Deleting a missing name is not an
// error.
func (v *Vault) Delete(name string) error {
	if err := checkName(name); err != nil {
		return err
	}

	err := v.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + name))
	})
	if err != nil {
		return fmt.Errorf("deleting key material %q: %w", name, err)
	}

	v.log.WithField("name", name).Debug("deleted key material")
	return nil
}

// List returns the stored keys in name order.
func (v *Vault) List() ([]KeyInfo, error) {
	var infos []KeyInfo
	err := v.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			name := strings.TrimPrefix(string(item.Key()), keyPrefix)
			err := item.Value(func(val []byte) error {
				_, created, err := decodeRecord(val)
				if err != nil {
					return err
				}
				infos = append(infos, KeyInfo{Name: name, Created: created})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing key material: %w", err)
	}
	return infos, nil
}

func checkName(name string) error {
	if name == "" {
		return fmt.Errorf("key name must not be empty")
	}
	return nil
}

func encodeRecord(km *crypt.KeyMaterial, created int64) []byte {
	record := make([]byte, 0, recordSize)
	record = append(record, km.Key[:]...)
	record = append(record, km.BaseNonce[:]...)

	var createdBytes [8]byte
	binary.BigEndian.PutUint64(createdBytes[:], uint64(created))
	return append(record, createdBytes[:]...)
}

func decodeRecord(record []byte) (*crypt.KeyMaterial, int64, error) {
	if len(record) != recordSize {
		return nil, 0, fmt.Errorf("malformed key record: %d bytes, expected %d", len(record), recordSize)
	}

	km := &crypt.KeyMaterial{}
	copy(km.Key[:], record[:crypt.KeySize])
	copy(km.BaseNonce[:], record[crypt.KeySize:crypt.MaterialSize])
	created := int64(binary.BigEndian.Uint64(record[crypt.MaterialSize:]))
	return km, created, nil
}
