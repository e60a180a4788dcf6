// Package store maps identifiers to record files inside a checkout and reads and
// writes them. Durability is delegated to a Transport.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/xerrors"

	"github.com/cvedb/cvedb-tools/pkg/log"
	"github.com/cvedb/cvedb-tools/pkg/types"
	"github.com/cvedb/cvedb-tools/pkg/utils"
)

var (
	ErrNotFound           = xerrors.New("record not found")
	ErrIdentifierMismatch = xerrors.New("embedded identifier does not match")
)

// Transport makes written files durable and visible to others.
type Transport interface {
	Add(path string) error
	Commit(msg string) error
	Push(ctx context.Context) error
}

// Patcher rewrites the raw JSON body of a record.
type Patcher interface {
	Apply(original []byte) ([]byte, error)
}

type Store struct {
	root      string
	transport Transport
}

func New(root string, transport Transport) Store {
	return Store{
		root:      root,
		transport: transport,
	}
}

func (s Store) Root() string {
	return s.root
}

// Path returns the absolute path of the record file for id.
func (s Store) Path(id types.Identifier) string {
	return filepath.Join(s.root, id.RelPath())
}

// Read loads the record stored for id. A missing file is ErrNotFound.
func (s Store) Read(id types.Identifier) (types.Record, error) {
	b, err := s.ReadRaw(id)
	if err != nil {
		return types.Record{}, err
	}

	var rec types.Record
	if err = json.Unmarshal(b, &rec); err != nil {
		return types.Record{}, oops.With("id", id.String()).Wrapf(err, "json decode error")
	}
	return rec, nil
}

// ReadRaw returns the record file content as stored.
func (s Store) ReadRaw(id types.Identifier) ([]byte, error) {
	path := s.Path(id)
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, xerrors.Errorf("%s: %w", id, ErrNotFound)
	} else if err != nil {
		return nil, oops.With("file_path", path).Wrapf(err, "file read error")
	}
	return b, nil
}

// Write stores rec for id and stages the file. The identifier embedded in the OSV
// namespace must be exactly id.
func (s Store) Write(id types.Identifier, rec types.Record) error {
	if rec.OSV.ID != id.String() {
		return xerrors.Errorf("record %q stored as %s: %w", rec.OSV.ID, id, ErrIdentifierMismatch)
	}

	b, err := Marshal(rec)
	if err != nil {
		return oops.With("id", id.String()).Wrapf(err, "json encode error")
	}

	path := s.Path(id)
	eb := oops.With("file_path", path)
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eb.Wrapf(err, "mkdir error")
	}
	if err = os.WriteFile(path, b, 0o644); err != nil {
		return eb.Wrapf(err, "file write error")
	}

	if err = s.transport.Add(path); err != nil {
		return eb.Wrapf(err, "stage error")
	}
	log.Debug("Wrote record", log.ID(id), log.FilePath(path))
	return nil
}

// Patch applies p to the stored body of id and writes the result back.
func (s Store) Patch(id types.Identifier, p Patcher) (types.Record, error) {
	original, err := s.ReadRaw(id)
	if err != nil {
		return types.Record{}, err
	}

	eb := oops.With("id", id.String())
	patched, err := p.Apply(original)
	if err != nil {
		return types.Record{}, eb.Wrapf(err, "patch error")
	}

	// decoding is lossless: members without a field are carried along
	var rec types.Record
	if err = json.Unmarshal(patched, &rec); err != nil {
		return types.Record{}, eb.Wrapf(err, "json decode error")
	}

	// the patch is checked against the embedded identifier like any other write
	if err = s.Write(id, rec); err != nil {
		return types.Record{}, err
	}
	return rec, nil
}

func (s Store) Commit(msg string) error {
	return s.transport.Commit(msg)
}

func (s Store) Publish(ctx context.Context) error {
	return s.transport.Push(ctx)
}

// Walk calls fn for every record below the root. Version control metadata and
// files that are not named after an identifier are skipped.
func (s Store) Walk(fn func(id types.Identifier, rec types.Record) error) error {
	return utils.FileWalk(s.root, func(r io.Reader, path string) error {
		name := filepath.Base(path)
		if !strings.HasSuffix(name, ".json") {
			return nil
		}
		if _, err := types.ParseIdentifier(strings.TrimSuffix(name, ".json")); err != nil {
			return nil
		}

		var rec types.Record
		if err := json.NewDecoder(r).Decode(&rec); err != nil {
			return oops.Wrapf(err, "json decode error")
		}
		id, err := types.ParseIdentifier(rec.OSV.ID)
		if err != nil {
			return oops.Wrapf(err, "embedded identifier error")
		}
		return fn(id, rec)
	})
}

// List returns the embedded identifiers of all records, oldest first.
func (s Store) List() ([]types.Identifier, error) {
	var ids []types.Identifier
	err := s.Walk(func(id types.Identifier, _ types.Record) error {
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(ids, func(a, b types.Identifier) int {
		if a.Year != b.Year {
			return a.Year - b.Year
		}
		return a.Seq - b.Seq
	})
	return ids, nil
}

// Marshal renders a record the way it is stored: two-space indentation, a trailing
// newline and no HTML escaping.
func Marshal(rec types.Record) ([]byte, error) {
	return utils.MarshalIndentJSON(rec, "  ")
}
