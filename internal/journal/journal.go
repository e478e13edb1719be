// Package journal provides a BoltDB-backed log of commands issued to sensors.
package journal

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"floorreg/internal/sensor"
)

var commandsBucket = []byte("commands")

// Record is one issued command.
type Record struct {
	Seq      uint64    `msgpack:"seq"`
	At       time.Time `msgpack:"at"`
	Identity string    `msgpack:"identity"`
	Address  string    `msgpack:"address"`
	Port     uint16    `msgpack:"port"`
	Action   string    `msgpack:"action"`
	Origin   string    `msgpack:"origin"`
}

// Journal wraps a bbolt database of command records.
type Journal struct {
	db  *bolt.DB
	log zerolog.Logger
}

// Open opens or creates a BoltDB file at the given path.
func Open(path string, log zerolog.Logger) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(commandsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating commands bucket: %w", err)
	}

	return &Journal{db: db, log: log}, nil
}

// Close closes the underlying BoltDB.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append stores a record for cmd and returns it with its sequence number set.
func (j *Journal) Append(identity, origin string, cmd sensor.Command) (Record, error) {
	rec := Record{
		At:       time.Now().UTC(),
		Identity: identity,
		Address:  cmd.Address,
		Port:     cmd.Port,
		Action:   cmd.Action(),
		Origin:   origin,
	}

	err := j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(commandsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating sequence: %w", err)
		}
		rec.Seq = seq

		data, err := msgpack.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshaling record: %w", err)
		}
		return b.Put(seqKey(seq), data)
	})
	if err != nil {
		return Record{}, err
	}

	j.log.Debug().
		Uint64("seq", rec.Seq).
		Str("name", identity).
		Str("action", rec.Action).
		Msg("Command journaled")
	return rec, nil
}

// Recent returns up to n records, newest first.
func (j *Journal) Recent(n int) ([]Record, error) {
	var records []Record
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(commandsBucket).Cursor()
		for k, v := c.Last(); k != nil && len(records) < n; k, v = c.Prev() {
			var rec Record
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				j.log.Warn().Err(err).Uint64("seq", binary.BigEndian.Uint64(k)).Msg("Skipping corrupt record")
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// Prune deletes all but the newest keep records and returns how many were
// removed.
func (j *Journal) Prune(keep int) (int, error) {
	removed := 0
	err := j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(commandsBucket)
		excess := b.Stats().KeyN - keep
		if excess <= 0 {
			return nil
		}
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && len(stale) < excess; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("deleting record: %w", err)
			}
			removed++
		}
		return nil
	})
	if err == nil && removed > 0 {
		j.log.Info().Int("removed", removed).Msg("Journal pruned")
	}
	return removed, err
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
