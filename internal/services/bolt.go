package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agixt/agixt-web/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB caches the last transcript and conversation list seen for each user in a BoltDB file. The cache
// only serves pages while the server is unreachable; it is never treated as authoritative.
type BoltDB struct {
	db *bolt.DB
}

type snapshotRecord struct {
	SavedAt  time.Time        `json:"saved_at"`
	Messages []models.Message `json:"messages"`
}

type conversationsRecord struct {
	SavedAt       time.Time             `json:"saved_at"`
	Conversations []models.Conversation `json:"conversations"`
}

var (
	transcriptsBucket   = []byte("transcripts")
	conversationsBucket = []byte("conversations")
)

// ErrNotCached is returned when the cache holds nothing for the requested key.
var ErrNotCached = errors.New("not cached")

// NewBoltDB opens the cache file at path, creating it with 0600 permissions and initializing its buckets
// when needed.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{transcriptsBucket, conversationsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return BoltDB{}, fmt.Errorf("failed to initialize bolt db: %w", err)
	}

	return BoltDB{db: db}, nil
}

func snapshotKey(userID, conversationID string) []byte {
	return []byte(userID + "/" + conversationID)
}

// SaveSnapshot stores the transcript of conversationID as seen by userID. Thinking placeholders are never
// stored.
func (b BoltDB) SaveSnapshot(_ context.Context, userID, conversationID string, msgs []models.Message) error {
	rec := snapshotRecord{
		SavedAt:  time.Now().UTC(),
		Messages: make([]models.Message, 0, len(msgs)),
	}
	for _, m := range msgs {
		if !m.IsThinking() {
			rec.Messages = append(rec.Messages, m)
		}
	}

	v, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(transcriptsBucket).Put(snapshotKey(userID, conversationID), v)
	})
}

// Snapshot returns the last stored transcript of conversationID for userID and when it was stored.
func (b BoltDB) Snapshot(_ context.Context, userID, conversationID string) ([]models.Message, time.Time, error) {
	var rec snapshotRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(transcriptsBucket).Get(snapshotKey(userID, conversationID))
		if v == nil {
			return ErrNotCached
		}
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	return rec.Messages, rec.SavedAt, nil
}

// DeleteSnapshot removes the stored transcript of conversationID for userID. Deleting a missing snapshot
// is not an error.
func (b BoltDB) DeleteSnapshot(_ context.Context, userID, conversationID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(transcriptsBucket).Delete(snapshotKey(userID, conversationID))
	})
}

// SaveConversations stores the conversation list of userID.
func (b BoltDB) SaveConversations(_ context.Context, userID string, convs []models.Conversation) error {
	v, err := json.Marshal(conversationsRecord{
		SavedAt:       time.Now().UTC(),
		Conversations: convs,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal conversations: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).Put([]byte(userID), v)
	})
}

// Conversations returns the last stored conversation list of userID.
func (b BoltDB) Conversations(_ context.Context, userID string) ([]models.Conversation, error) {
	var rec conversationsRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(conversationsBucket).Get([]byte(userID))
		if v == nil {
			return ErrNotCached
		}
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal conversations: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec.Conversations, nil
}

// Close closes the underlying database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}
