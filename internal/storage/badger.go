package storage

import (
	"errors"
	"strings"

	"github.com/dgraph-io/badger/v4"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("storage")

// keyPrefix namespaces store keys inside the badger keyspace.
const keyPrefix = "kv/"

type BadgerStorage struct {
	db     *badger.DB
	ownsDB bool
}

// NewBadgerStorage wraps an open DB. The caller keeps ownership of db.
func NewBadgerStorage(db *badger.DB) *BadgerStorage {
	return &BadgerStorage{db: db}
}

// OpenInMemoryBadger opens a private in-memory DB that Close releases.
func OpenInMemoryBadger() (*BadgerStorage, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(badgerLogger{log})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	s := NewBadgerStorage(db)
	s.ownsDB = true
	return s, nil
}

func (b *BadgerStorage) Put(key, value string) error {
	return b.wrap(b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+key), []byte(value))
	}))
}

func (b *BadgerStorage) Get(key string) (value string, ok bool, err error) {
	err = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			ok = true
			return nil
		})
	})
	return value, ok, b.wrap(err)
}

func (b *BadgerStorage) Delete(key string) error {
	return b.wrap(b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + key))
	}))
}

func (b *BadgerStorage) All() ([]string, error) {
	var out []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := strings.TrimPrefix(string(item.Key()), keyPrefix)
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, key+"->"+string(val))
		}
		return nil
	})
	if err != nil {
		return nil, b.wrap(err)
	}
	return out, nil
}

func (b *BadgerStorage) Close() error {
	if !b.ownsDB {
		return nil
	}
	return b.db.Close()
}

func (b *BadgerStorage) wrap(err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	return err
}

// badgerLogger routes badger's internal logging into go-log.
type badgerLogger struct {
	l *logging.ZapEventLogger
}

func (b badgerLogger) Errorf(format string, args ...interface{})   { b.l.Errorf(format, args...) }
func (b badgerLogger) Warningf(format string, args ...interface{}) { b.l.Warnf(format, args...) }
func (b badgerLogger) Infof(format string, args ...interface{})    { b.l.Debugf(format, args...) }
func (b badgerLogger) Debugf(format string, args ...interface{})   { b.l.Debugf(format, args...) }
