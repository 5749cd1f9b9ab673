// Copyright 2025 The Sigstore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package autoupdate

import (
	"encoding/binary"
	"errors"
	"time"

	"go.etcd.io/bbolt"
)

// Snapshot is the last log list accepted by a Verifier.
type Snapshot struct {
	Token     string
	Keys      [][]byte
	FetchedAt time.Time
}

// Store persists the accepted log list across restarts.
type Store interface {
	// Load returns the stored snapshot, or nil when nothing was saved yet.
	Load() (*Snapshot, error)
	Save(s *Snapshot) error
}

var (
	bucketLogList = []byte("loglist")
	bucketKeys    = []byte("keys")
	keyToken      = []byte("token")
	keyFetchedAt  = []byte("fetched_at")
)

// BoltStore keeps the snapshot in a bbolt database.
type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string, opts *bbolt.Options) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, opts)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLogList)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Load() (*Snapshot, error) {
	var s *Snapshot
	err := b.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucketLogList)
		keys := bkt.Bucket(bucketKeys)
		if keys == nil {
			return nil
		}
		ts := bkt.Get(keyFetchedAt)
		if len(ts) != 8 {
			return errors.New("corrupt log list timestamp")
		}
		s = &Snapshot{
			Token:     string(bkt.Get(keyToken)),
			FetchedAt: time.Unix(0, int64(binary.BigEndian.Uint64(ts))),
		}
		// Values are only valid for the life of the transaction.
		return keys.ForEach(func(_, v []byte) error {
			s.Keys = append(s.Keys, append([]byte(nil), v...))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Save replaces the stored snapshot.
func (b *BoltStore) Save(s *Snapshot) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucketLogList)
		if bkt.Bucket(bucketKeys) != nil {
			if err := bkt.DeleteBucket(bucketKeys); err != nil {
				return err
			}
		}
		keys, err := bkt.CreateBucket(bucketKeys)
		if err != nil {
			return err
		}
		for i, k := range s.Keys {
			var idx [4]byte
			binary.BigEndian.PutUint32(idx[:], uint32(i))
			if err := keys.Put(idx[:], k); err != nil {
				return err
			}
		}
		var ts [8]byte
		binary.BigEndian.PutUint64(ts[:], uint64(s.FetchedAt.UnixNano()))
		if err := bkt.Put(keyFetchedAt, ts[:]); err != nil {
			return err
		}
		return bkt.Put(keyToken, []byte(s.Token))
	})
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}
