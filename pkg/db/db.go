// Package db persists the shard counters: for every repository and (year, block)
// pair, the last sequence number published by a session.
//
// Layout: counters/{repository}/{year}/{block} -> last sequence (JSON), plus a
// metadata bucket with the schema version.
package db

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/samber/oops"
	bolt "go.etcd.io/bbolt"
)

const (
	SchemaVersion = 2

	fileName    = "counter.db"
	countersKey = "counters"
	metadataKey = "metadata"
)

type Metadata struct {
	Version   int
	UpdatedAt time.Time
}

// Counter is the bbolt-backed shard counter of one repository. The zero value is
// not usable; call Open.
type Counter struct {
	db   *bolt.DB
	path string
	repo []byte
}

// Path returns the counter database location inside cacheDir.
func Path(cacheDir string) string {
	return filepath.Join(cacheDir, "db", fileName)
}

// Open creates or opens the counter database inside cacheDir and scopes it to repo,
// usually the clone URL of the record repository. bbolt takes an exclusive file
// lock, so a second session using the same cache dir blocks until timeout.
func Open(cacheDir, repo string) (*Counter, error) {
	dbPath := Path(cacheDir)
	eb := oops.With("db_path", dbPath, "repository", repo)
	if repo == "" {
		return nil, eb.Errorf("repository key is required")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, eb.Wrapf(err, "failed to mkdir")
	}

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, eb.Wrapf(err, "failed to open db")
	}
	return &Counter{db: db, path: dbPath, repo: []byte(repo)}, nil
}

func (c *Counter) Close() error {
	if err := c.db.Close(); err != nil {
		return oops.With("db_path", c.path).Wrapf(err, "failed to close DB")
	}
	return nil
}

// Last returns the last sequence number recorded for the block.
func (c *Counter) Last(year, block int) (int, bool, error) {
	var (
		seq int
		ok  bool
	)
	err := c.db.View(func(tx *bolt.Tx) error {
		bkt := c.yearBucket(tx, year)
		if bkt == nil {
			return nil
		}
		v := bkt.Get(blockKey(block))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &seq); err != nil {
			return oops.With("year", year, "block", block).Wrapf(err, "json unmarshal error")
		}
		ok = true
		return nil
	})
	if err != nil {
		return 0, false, oops.Wrapf(err, "failed to get counter")
	}
	return seq, ok, nil
}

// Set records seq as the last sequence of the block. A smaller value than the one
// already stored is ignored: sequence numbers are never handed out twice.
func (c *Counter) Set(year, block, seq int) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		bkt, err := c.createYearBucket(tx, year)
		if err != nil {
			return err
		}

		if v := bkt.Get(blockKey(block)); v != nil {
			var cur int
			if err = json.Unmarshal(v, &cur); err == nil && cur >= seq {
				return nil
			}
		}

		b, err := json.Marshal(seq)
		if err != nil {
			return oops.Wrapf(err, "json marshal error")
		}
		if err = bkt.Put(blockKey(block), b); err != nil {
			return err
		}
		return putMetadata(tx)
	})
	if err != nil {
		return oops.With("year", year, "block", block, "seq", seq).Wrapf(err, "failed to set counter")
	}
	return nil
}

// GetMetadata returns the schema version and the time of the last update.
func (c *Counter) GetMetadata() (Metadata, error) {
	var md Metadata
	err := c.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(metadataKey))
		if bkt == nil {
			return nil
		}
		v := bkt.Get([]byte("data"))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &md)
	})
	if err != nil {
		return Metadata{}, oops.Wrapf(err, "failed to get metadata")
	}
	return md, nil
}

func putMetadata(tx *bolt.Tx) error {
	bkt, err := tx.CreateBucketIfNotExists([]byte(metadataKey))
	if err != nil {
		return oops.Wrapf(err, "failed to create a bucket")
	}
	b, err := json.Marshal(Metadata{
		Version:   SchemaVersion,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return oops.Wrapf(err, "json marshal error")
	}
	return bkt.Put([]byte("data"), b)
}

func (c *Counter) yearBucket(tx *bolt.Tx, year int) *bolt.Bucket {
	counters := tx.Bucket([]byte(countersKey))
	if counters == nil {
		return nil
	}
	repo := counters.Bucket(c.repo)
	if repo == nil {
		return nil
	}
	return repo.Bucket(yearKey(year))
}

func (c *Counter) createYearBucket(tx *bolt.Tx, year int) (*bolt.Bucket, error) {
	counters, err := tx.CreateBucketIfNotExists([]byte(countersKey))
	if err != nil {
		return nil, oops.Wrapf(err, "failed to create a bucket")
	}
	repo, err := counters.CreateBucketIfNotExists(c.repo)
	if err != nil {
		return nil, oops.With("repository", string(c.repo)).Wrapf(err, "failed to create a bucket")
	}
	bkt, err := repo.CreateBucketIfNotExists(yearKey(year))
	if err != nil {
		return nil, oops.With("year", year).Wrapf(err, "failed to create a bucket")
	}
	return bkt, nil
}

func yearKey(year int) []byte {
	return []byte(strconv.Itoa(year))
}

func blockKey(block int) []byte {
	return []byte(strconv.Itoa(block))
}
