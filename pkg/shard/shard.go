// Package shard hands out vulnerability identifiers.
//
// Identifiers are bucketed per year into blocks of 1000 sequence numbers, one
// directory per block (e.g. 2021/1000xxx). The allocator always reads the latest
// state of the tree, and of the persisted counter, before choosing the next number.
// The counter only moves through Advance, once an identifier has been published.
//
// The allocator assumes it is the only writer of the tree for the lifetime of a
// session. Nothing here takes a lock.
package shard

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/xerrors"

	"github.com/cvedb/cvedb-tools/pkg/log"
	"github.com/cvedb/cvedb-tools/pkg/set"
	"github.com/cvedb/cvedb-tools/pkg/types"
)

const (
	// DefaultFloor and DefaultCeiling bound the block indexes, i.e. sequence
	// numbers 1000000 through 1999999.
	DefaultFloor   = 1000
	DefaultCeiling = 2000
)

var ErrNamespaceExhausted = xerrors.New("identifier namespace exhausted")

// Counter remembers the last sequence number published per block.
type Counter interface {
	Last(year, block int) (int, bool, error)
	Set(year, block, seq int) error
}

type nopCounter struct{}

func (nopCounter) Last(int, int) (int, bool, error) { return 0, false, nil }
func (nopCounter) Set(int, int, int) error          { return nil }

type Allocator struct {
	root    string
	counter Counter
	floor   int
	ceiling int
	logger  *log.Logger
}

type Option func(*Allocator)

func WithCounter(c Counter) Option {
	return func(a *Allocator) {
		a.counter = c
	}
}

// WithBlockRange limits allocation to blocks [floor, ceiling).
func WithBlockRange(floor, ceiling int) Option {
	return func(a *Allocator) {
		a.floor = floor
		a.ceiling = ceiling
	}
}

func New(root string, opts ...Option) *Allocator {
	a := &Allocator{
		root:    root,
		counter: nopCounter{},
		floor:   DefaultFloor,
		ceiling: DefaultCeiling,
		logger:  log.WithPrefix("shard"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate returns the next free identifier for year and the absolute path of its
// record. Trusted callers get a confirmed identifier, everyone else a provisional
// one; the numbering is the same for both.
func (a *Allocator) Allocate(year int, trusted bool) (types.Identifier, string, error) {
	ns := types.Provisional
	if trusted {
		ns = types.Confirmed
	}
	eb := oops.With("year", year, "root", a.root)

	for block := a.floor; block < a.ceiling; block++ {
		last, ok, err := a.last(year, block)
		if err != nil {
			return types.Identifier{}, "", eb.Wrapf(err, "block %d", block)
		}

		seq := block * types.BlockSize
		if ok {
			seq = last + 1
			if seq%types.BlockSize == 0 {
				// the block is full, roll over to the next one
				continue
			}
		}

		blockDir := filepath.Join(a.root, types.BlockDir(year, block))
		if err = os.MkdirAll(blockDir, 0o755); err != nil {
			return types.Identifier{}, "", eb.Wrapf(err, "mkdir error")
		}
		id := types.NewIdentifier(ns, year, seq)
		a.logger.Debug("Allocated identifier", log.ID(id), log.DirPath(blockDir))
		return id, filepath.Join(a.root, id.RelPath()), nil
	}

	return types.Identifier{}, "", xerrors.Errorf("year %d, blocks %d-%d: %w",
		year, a.floor, a.ceiling-1, ErrNamespaceExhausted)
}

// last returns the highest sequence number used in the block, looking at both the
// files on disk and the counter.
func (a *Allocator) last(year, block int) (int, bool, error) {
	used, err := a.onDisk(year, block)
	if err != nil {
		return 0, false, err
	}

	seq, ok, err := a.counter.Last(year, block)
	if err != nil {
		return 0, false, err
	} else if ok {
		used.Append(seq)
	}
	last, ok := used.Max()
	return last, ok, nil
}

func (a *Allocator) onDisk(year, block int) (set.Ordered[int], error) {
	used := set.NewOrdered[int]()
	dir := filepath.Join(a.root, types.BlockDir(year, block))

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return used, nil
	} else if err != nil {
		return used, oops.With("dir_path", dir).Wrapf(err, "read dir error")
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id, err := types.ParseIdentifier(strings.TrimSuffix(name, ".json"))
		if err != nil || id.Year != year || id.Block() != block {
			a.logger.Debug("Ignoring unexpected file", log.FilePath(filepath.Join(dir, name)))
			continue
		}
		used.Append(id.Seq)
	}
	return used, nil
}

// Advance records id as used in the counter. Identifiers that were allocated but
// never advanced can be handed out again by a later session.
func (a *Allocator) Advance(id types.Identifier) error {
	if err := a.counter.Set(id.Year, id.Block(), id.Seq); err != nil {
		return oops.With("id", id.String()).Wrapf(err, "counter error")
	}
	return nil
}

// Path returns the absolute path of the record for id. It does not touch the disk.
func (a *Allocator) Path(id types.Identifier) string {
	return filepath.Join(a.root, id.RelPath())
}
