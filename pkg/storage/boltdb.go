package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/cuemby/chatcluster/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketAccounts     = []byte("accounts")
	bucketMessages     = []byte("messages")
	bucketDeliveryFlags = []byte("delivery_flags")
	bucketReadFlags     = []byte("read_flags")
	bucketMeta          = []byte("meta")
)

var metaKeyHighestID = []byte("highest_message_id")

// BoltStore implements Store using an embedded BoltDB file, one bucket per
// table named in orig §6's persisted-state layout.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) state.db under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "state.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketAccounts, bucketMessages, bucketDeliveryFlags, bucketReadFlags, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func idKey(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// accountRecord is the on-disk shape for an account; PasswordVerifier is
// stored alongside since Bolt has no column-level access control.
type accountRecord struct {
	Username         string    `json:"username"`
	PasswordVerifier []byte    `json:"password_verifier"`
	CreatedAt        time.Time `json:"created_at"`
}

func (s *BoltStore) CreateAccount(username string, verifier []byte, createdAt time.Time) error {
	if username == "" {
		return ErrInvalid
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		if b.Get([]byte(username)) != nil {
			return ErrUsernameTaken
		}
		rec := accountRecord{Username: username, PasswordVerifier: verifier, CreatedAt: createdAt}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(username), data)
	})
}

func (s *BoltStore) getAccount(tx *bolt.Tx, username string) (*accountRecord, error) {
	b := tx.Bucket(bucketAccounts)
	data := b.Get([]byte(username))
	if data == nil {
		return nil, nil
	}
	var rec accountRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BoltStore) VerifyLogin(username string, verifier []byte) (bool, error) {
	var rec *accountRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		r, err := s.getAccount(tx, username)
		rec = r
		return err
	})
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, ErrNoSuchUser
	}
	return bytesEqual(rec.PasswordVerifier, verifier), nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *BoltStore) AccountExists(username string) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		rec, err := s.getAccount(tx, username)
		exists = rec != nil
		return err
	})
	return exists, err
}

// DeleteAccount removes the account and cascades to every message where it
// is sender or recipient, along with their delivery/read flags.
func (s *BoltStore) DeleteAccount(username string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		accounts := tx.Bucket(bucketAccounts)
		if err := accounts.Delete([]byte(username)); err != nil {
			return err
		}

		messages := tx.Bucket(bucketMessages)
		delivery := tx.Bucket(bucketDeliveryFlags)
		read := tx.Bucket(bucketReadFlags)

		var toDelete [][]byte
		err := messages.ForEach(func(k, v []byte) error {
			var msg messageRecord
			if err := json.Unmarshal(v, &msg); err != nil {
				return err
			}
			if msg.Sender == username || msg.Recipient == username {
				key := make([]byte, len(k))
				copy(key, k)
				toDelete = append(toDelete, key)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range toDelete {
			if err := messages.Delete(k); err != nil {
				return err
			}
			_ = delivery.Delete(k)
			_ = read.Delete(k)
		}
		return nil
	})
}

func (s *BoltStore) ListAccounts(pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	var usernames []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		return b.ForEach(func(k, v []byte) error {
			matched, err := path.Match(pattern, string(k))
			if err != nil {
				return err
			}
			if matched {
				usernames = append(usernames, string(k))
			}
			return nil
		})
	})
	return usernames, err
}

type messageRecord struct {
	ID        uint64    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *BoltStore) InsertMessage(msg *types.Message) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		key := idKey(msg.ID)
		if b.Get(key) != nil {
			// Idempotent re-application: ignore duplicate ids (orig §9).
			return nil
		}
		rec := messageRecord{ID: msg.ID, Sender: msg.Sender, Recipient: msg.Recipient, Content: msg.Content, Timestamp: msg.Timestamp}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := b.Put(key, data); err != nil {
			return err
		}
		if msg.Delivered {
			if err := tx.Bucket(bucketDeliveryFlags).Put(key, []byte{1}); err != nil {
				return err
			}
		}
		if msg.Read {
			if err := tx.Bucket(bucketReadFlags).Put(key, []byte{1}); err != nil {
				return err
			}
		}
		return bumpHighestLocked(tx, msg.ID)
	})
}

func bumpHighestLocked(tx *bolt.Tx, id uint64) error {
	meta := tx.Bucket(bucketMeta)
	cur := meta.Get(metaKeyHighestID)
	var curID uint64
	if cur != nil {
		curID = binary.BigEndian.Uint64(cur)
	}
	if id > curID {
		return meta.Put(metaKeyHighestID, idKey(id))
	}
	return nil
}

func (s *BoltStore) hydrate(tx *bolt.Tx, key []byte, rec messageRecord) *types.Message {
	delivered := tx.Bucket(bucketDeliveryFlags).Get(key) != nil
	read := tx.Bucket(bucketReadFlags).Get(key) != nil
	return &types.Message{
		ID:        rec.ID,
		Sender:    rec.Sender,
		Recipient: rec.Recipient,
		Content:   rec.Content,
		Timestamp: rec.Timestamp,
		Delivered: delivered,
		Read:      read,
	}
}

func (s *BoltStore) FetchConversation(a, b string, limit int, beforeID uint64) ([]*types.Message, error) {
	var all []*types.Message
	err := s.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketMessages)
		return bk.ForEach(func(k, v []byte) error {
			var rec messageRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			between := (rec.Sender == a && rec.Recipient == b) || (rec.Sender == b && rec.Recipient == a)
			if !between {
				return nil
			}
			if beforeID != 0 && rec.ID >= beforeID {
				return nil
			}
			all = append(all, s.hydrate(tx, k, rec))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// Order by id descending (messages bucket iterates in key order
	// ascending, so reverse).
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *BoltStore) ListChatPartners(user string) ([]string, error) {
	seen := make(map[string]bool)
	err := s.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketMessages)
		return bk.ForEach(func(k, v []byte) error {
			var rec messageRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.Sender == user && rec.Recipient != user {
				seen[rec.Recipient] = true
			} else if rec.Recipient == user && rec.Sender != user {
				seen[rec.Sender] = true
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	partners := make([]string, 0, len(seen))
	for p := range seen {
		partners = append(partners, p)
	}
	return partners, nil
}

func (s *BoltStore) UndeliveredFor(user string) ([]*types.Message, error) {
	var msgs []*types.Message
	err := s.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketMessages)
		return bk.ForEach(func(k, v []byte) error {
			var rec messageRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.Recipient != user {
				return nil
			}
			if tx.Bucket(bucketDeliveryFlags).Get(k) != nil {
				return nil
			}
			msgs = append(msgs, s.hydrate(tx, k, rec))
			return nil
		})
	})
	return msgs, err
}

func (s *BoltStore) DeleteMessages(ids []uint64, requester string) ([]uint64, error) {
	var deleted []uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		messages := tx.Bucket(bucketMessages)
		delivery := tx.Bucket(bucketDeliveryFlags)
		read := tx.Bucket(bucketReadFlags)

		for _, id := range ids {
			key := idKey(id)
			data := messages.Get(key)
			if data == nil {
				continue
			}
			var rec messageRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			if rec.Sender != requester && rec.Recipient != requester {
				continue
			}
			if err := messages.Delete(key); err != nil {
				return err
			}
			_ = delivery.Delete(key)
			_ = read.Delete(key)
			deleted = append(deleted, id)
		}
		return nil
	})
	return deleted, err
}

func (s *BoltStore) MarkDelivered(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := idKey(id)
		if tx.Bucket(bucketMessages).Get(key) == nil {
			return nil
		}
		return tx.Bucket(bucketDeliveryFlags).Put(key, []byte{1})
	})
}

func (s *BoltStore) MarkRead(ids []uint64, requester string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		messages := tx.Bucket(bucketMessages)
		read := tx.Bucket(bucketReadFlags)
		for _, id := range ids {
			key := idKey(id)
			data := messages.Get(key)
			if data == nil {
				continue
			}
			var rec messageRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			if rec.Sender != requester && rec.Recipient != requester {
				// MARK_READ on a non-owned id is a no-op (orig §8).
				continue
			}
			if err := read.Put(key, []byte{1}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) HighestMessageID() (uint64, error) {
	var id uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(metaKeyHighestID)
		if data != nil {
			id = binary.BigEndian.Uint64(data)
		}
		return nil
	})
	return id, err
}

func (s *BoltStore) SnapshotForCatchup(ctx context.Context) (<-chan *SnapshotRecord, error) {
	ch := make(chan *SnapshotRecord, 64)

	go func() {
		defer close(ch)

		_ = s.db.View(func(tx *bolt.Tx) error {
			accounts := tx.Bucket(bucketAccounts)
			if err := accounts.ForEach(func(k, v []byte) error {
				var rec accountRecord
				if err := json.Unmarshal(v, &rec); err != nil {
					return err
				}
				account := &types.Account{Username: rec.Username, PasswordVerifier: rec.PasswordVerifier, CreatedAt: rec.CreatedAt}
				select {
				case ch <- &SnapshotRecord{Account: account}:
				case <-ctx.Done():
					return ctx.Err()
				}
				return nil
			}); err != nil {
				return err
			}

			messages := tx.Bucket(bucketMessages)
			return messages.ForEach(func(k, v []byte) error {
				var rec messageRecord
				if err := json.Unmarshal(v, &rec); err != nil {
					return err
				}
				msg := s.hydrate(tx, k, rec)
				select {
				case ch <- &SnapshotRecord{Message: msg}:
				case <-ctx.Done():
					return ctx.Err()
				}
				return nil
			})
		})
	}()

	return ch, nil
}

func (s *BoltStore) ApplySnapshotRecord(rec *SnapshotRecord) error {
	if rec.Account != nil {
		return s.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketAccounts)
			if b.Get([]byte(rec.Account.Username)) != nil {
				return nil
			}
			data, err := json.Marshal(accountRecord{
				Username:         rec.Account.Username,
				PasswordVerifier: rec.Account.PasswordVerifier,
				CreatedAt:        rec.Account.CreatedAt,
			})
			if err != nil {
				return err
			}
			return b.Put([]byte(rec.Account.Username), data)
		})
	}
	if rec.Message != nil {
		return s.InsertMessage(rec.Message)
	}
	return nil
}
