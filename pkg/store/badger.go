package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/finchsocial/finch/internal/logging"
	"github.com/finchsocial/finch/pkg/domain"
	"github.com/finchsocial/finch/pkg/errors"
	"github.com/google/uuid"
)

const messagePrefix = "msg:"

// BadgerStore implements MessageStore on an embedded BadgerDB
type BadgerStore struct {
	db     *badger.DB
	logger *logging.Logger
}

// Options configures the store
type Options struct {
	Path     string
	InMemory bool
}

// Open opens (or creates) the message database
func Open(opts Options, logger *logging.Logger) (*BadgerStore, error) {
	badgerOpts := badger.DefaultOptions(opts.Path).
		WithInMemory(opts.InMemory).
		WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "STORE_OPEN", "failed to open message database")
	}

	return &BadgerStore{db: db, logger: logger}, nil
}

// NewBadgerStore wraps an already opened database. The store does not
// own the handle; Close is still safe to call once.
func NewBadgerStore(db *badger.DB, logger *logging.Logger) *BadgerStore {
	return &BadgerStore{db: db, logger: logger}
}

// DB exposes the underlying handle so collaborators (user directory)
// can share one database file.
func (s *BadgerStore) DB() *badger.DB {
	return s.db
}

// Persist implements MessageStore
func (s *BadgerStore) Persist(ctx context.Context, sender, receiver domain.Participant, body string) (StoredMessage, error) {
	if sender.Username == "" || receiver.Username == "" || body == "" {
		return StoredMessage{}, errors.New(errors.ErrorTypeValidation, "INVALID_MESSAGE", "sender, receiver and body are required")
	}

	msg := StoredMessage{
		ID:        uuid.New(),
		Sender:    sender,
		Receiver:  receiver,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return StoredMessage{}, errors.Wrap(err, errors.ErrorTypeInternal, "MARSHAL_ERROR", "failed to marshal message")
	}

	key := messageKey(sender.Username, receiver.Username, msg.CreatedAt, msg.ID)

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return StoredMessage{}, errors.Wrap(err, errors.ErrorTypeStorage, "PERSIST_FAILED", "failed to persist message")
	}

	s.logger.Debug("message persisted",
		"message_id", msg.ID.String(),
		"sender", sender.Username,
		"receiver", receiver.Username,
	)

	return msg, nil
}

// History implements MessageStore
func (s *BadgerStore) History(ctx context.Context, a, b string, limit int) ([]StoredMessage, error) {
	prefix := []byte(messagePrefix + conversationKey(a, b) + ":")

	var messages []StoredMessage

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the highest possible key within the prefix so the
		// reverse scan starts at the newest message.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(messages) >= limit {
				break
			}

			err := it.Item().Value(func(value []byte) error {
				var msg StoredMessage
				if err := json.Unmarshal(value, &msg); err != nil {
					return err
				}
				messages = append(messages, msg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "HISTORY_FAILED", "failed to read conversation history")
	}

	return messages, nil
}

// Close implements MessageStore
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// conversationKey orders the identity pair so both directions of a
// conversation share one key range.
func conversationKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "/" + b
}

// messageKey sorts by timestamp within a conversation; the message id
// breaks ties for messages persisted in the same nanosecond.
func messageKey(sender, receiver string, at time.Time, id uuid.UUID) []byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(at.UnixNano()))

	key := fmt.Sprintf("%s%s:", messagePrefix, conversationKey(sender, receiver))
	return append(append([]byte(key), ts[:]...), id[:]...)
}
