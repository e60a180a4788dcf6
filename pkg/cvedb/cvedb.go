// Package cvedb ties the record store, the identifier allocator, the converter and
// the allow-list together into a session over one working checkout of the
// database repository.
//
// A session owns its checkout exclusively from Open until Close. Sessions share
// no state, so several may be open in one process as long as they use different
// checkouts and cache directories.
package cvedb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"golang.org/x/xerrors"
	"k8s.io/utils/clock"

	"github.com/cvedb/cvedb-tools/pkg/allowlist"
	"github.com/cvedb/cvedb-tools/pkg/convert"
	"github.com/cvedb/cvedb-tools/pkg/db"
	"github.com/cvedb/cvedb-tools/pkg/gitrepo"
	"github.com/cvedb/cvedb-tools/pkg/log"
	"github.com/cvedb/cvedb-tools/pkg/override"
	"github.com/cvedb/cvedb-tools/pkg/shard"
	"github.com/cvedb/cvedb-tools/pkg/store"
	"github.com/cvedb/cvedb-tools/pkg/types"
	"github.com/cvedb/cvedb-tools/pkg/utils"
)

var (
	ErrApproverDenied     = xerrors.New("approver is not on the allow-list")
	ErrIdentifierMismatch = store.ErrIdentifierMismatch
)

type Config struct {
	// RepoURL is cloned into a temporary checkout when Checkout is empty.
	RepoURL string
	// Checkout is an existing working tree to use instead of cloning.
	Checkout string
	// CacheDir holds the shard counter database. Counters are kept per repository:
	// RepoURL when set, the checkout path otherwise.
	CacheDir string

	Git gitrepo.Options
}

type Option func(*Session)

func WithClock(c clock.Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

// WithConverter replaces the default converter. Its clock is not touched.
func WithConverter(c convert.Converter) Option {
	return func(s *Session) {
		s.converter = &c
	}
}

// WithAllocatorOptions passes options through to the identifier allocator.
func WithAllocatorOptions(opts ...shard.Option) Option {
	return func(s *Session) {
		s.allocOpts = append(s.allocOpts, opts...)
	}
}

type Session struct {
	repo      *gitrepo.Repo
	store     store.Store
	allocator *shard.Allocator
	counter   *db.Counter
	policy    allowlist.Policy
	converter *convert.Converter
	clock     clock.Clock

	allocOpts []shard.Option
	dryRun    bool
	tmpDir    string
	logger    *log.Logger
}

// Open acquires a checkout and loads everything a session needs from it.
func Open(ctx context.Context, conf Config, opts ...Option) (_ *Session, err error) {
	s := &Session{
		clock:  clock.RealClock{},
		dryRun: conf.Git.DryRun,
		logger: log.WithPrefix("cvedb"),
	}
	for _, opt := range opts {
		opt(s)
	}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if conf.Git.Clock == nil {
		conf.Git.Clock = s.clock
	}
	if s.converter == nil {
		c := convert.New(convert.WithClock(s.clock))
		s.converter = &c
	}

	if conf.Checkout != "" {
		s.repo, err = gitrepo.Open(conf.Checkout, conf.Git)
	} else {
		if conf.RepoURL == "" {
			return nil, xerrors.New("either a repository URL or a checkout is required")
		}
		if s.tmpDir, err = os.MkdirTemp("", "cvedb-"); err != nil {
			return nil, oops.Wrapf(err, "temp dir error")
		}
		s.repo, err = gitrepo.Clone(ctx, conf.RepoURL, s.tmpDir, conf.Git)
	}
	if err != nil {
		return nil, err
	}
	root := s.repo.Root()

	if s.policy, err = allowlist.Load(filepath.Join(root, allowlist.FileName)); err != nil {
		return nil, err
	}

	cacheDir := conf.CacheDir
	if cacheDir == "" {
		cacheDir = utils.CacheDir()
	}
	counterKey := conf.RepoURL
	if counterKey == "" {
		counterKey = root
	}
	if s.counter, err = db.Open(cacheDir, counterKey); err != nil {
		return nil, err
	}
	md, err := s.counter.GetMetadata()
	if err != nil {
		return nil, err
	} else if md.Version != 0 && md.Version != db.SchemaVersion {
		return nil, xerrors.Errorf("counter schema version %d is not supported (want %d), remove %s",
			md.Version, db.SchemaVersion, db.Path(cacheDir))
	}

	s.store = store.New(root, s.repo)
	s.allocator = shard.New(root, append([]shard.Option{shard.WithCounter(s.counter)}, s.allocOpts...)...)

	s.logger.Info("Session opened", log.DirPath(root), log.Int("allow_list", s.policy.Len()),
		log.Bool("dry_run", conf.Git.DryRun))
	return s, nil
}

// Root returns the working tree of the session.
func (s *Session) Root() string {
	return s.store.Root()
}

// IsApproved reports whether identity ("name:id") is on the allow-list.
func (s *Session) IsApproved(identity string) bool {
	return s.policy.IsApproved(identity)
}

// Add stores a new record for intake. Reporters on the allow-list get a confirmed
// identifier right away; everyone else gets a provisional one. The shard counter
// moves only once the record is published, never in a dry run.
func (s *Session) Add(ctx context.Context, intake types.Intake, origin string) (types.Identifier, error) {
	trusted := s.policy.IsApproved(intake.ReporterIdentity())

	id, _, err := s.allocator.Allocate(s.clock.Now().UTC().Year(), trusted)
	if err != nil {
		return types.Identifier{}, xerrors.Errorf("allocate error: %w", err)
	}

	rec, err := s.converter.ToRecord(id, intake)
	if err != nil {
		return types.Identifier{}, err
	}

	if err = s.persist(ctx, id, rec, fmt.Sprintf("Add %s for %s", id, origin)); err != nil {
		return types.Identifier{}, err
	}
	if !s.dryRun {
		// the record is on the remote, whose tree stays authoritative
		if err = s.allocator.Advance(id); err != nil {
			s.logger.Warn("Failed to advance the shard counter", log.ID(id), log.Err(err))
		}
	}
	s.logger.Info("Added record", log.ID(id), log.Bool("trusted", trusted), log.String("origin", origin))
	return id, nil
}

// Promote swaps the provisional identifier id for its confirmed form. The record
// keeps its path; only the identifier embedded in the document changes.
func (s *Session) Promote(ctx context.Context, id types.Identifier, approver, origin string) (types.Identifier, error) {
	confirmed, err := id.Promote()
	if err != nil {
		return types.Identifier{}, err
	}
	if !s.policy.IsApproved(approver) {
		return types.Identifier{}, xerrors.Errorf("%s for %s: %w", approver, id, ErrApproverDenied)
	}

	rec, err := s.store.Read(id)
	if err != nil {
		return types.Identifier{}, err
	}
	if rec.OSV.ID != id.String() {
		return types.Identifier{}, xerrors.Errorf("%s holds %q: %w", id, rec.OSV.ID, ErrIdentifierMismatch)
	}

	rec.OSV.ID = confirmed.String()
	if err = s.persist(ctx, confirmed, rec, fmt.Sprintf("Promote %s to %s for %s", id, confirmed, origin)); err != nil {
		return types.Identifier{}, err
	}
	s.logger.Info("Promoted record", log.ID(confirmed), log.String("approver", approver))
	return confirmed, nil
}

// Get reads the record for id. Both forms of an identifier address the same record.
func (s *Session) Get(id types.Identifier) (types.Record, error) {
	return s.store.Read(id)
}

// Update overwrites the record for id with rec.
func (s *Session) Update(ctx context.Context, id types.Identifier, rec types.Record, origin string) error {
	return s.persist(ctx, id, rec, fmt.Sprintf("Update %s for %s", id, origin))
}

// List returns the identifiers of all records, oldest first.
func (s *Session) List() ([]types.Identifier, error) {
	return s.store.List()
}

// ApplyOverrides applies every matching patch and commits the result once. Targets
// without a record are skipped. It returns the identifiers that were patched.
func (s *Session) ApplyOverrides(ctx context.Context, patches *override.Patches) ([]types.Identifier, error) {
	var patched []types.Identifier
	for _, target := range patches.Targets() {
		rec, err := s.store.Read(target)
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("No record for override", log.ID(target))
			continue
		} else if err != nil {
			return nil, err
		}

		// the record may have been promoted since the override was written
		id, err := types.ParseIdentifier(rec.OSV.ID)
		if err != nil {
			return nil, oops.With("target", target.String()).Wrapf(err, "embedded identifier error")
		}

		p, ok, err := patches.Match(id)
		if err != nil {
			return nil, err
		} else if !ok {
			continue
		}
		if _, err = s.store.Patch(id, p); err != nil {
			return nil, err
		}
		patched = append(patched, id)
	}

	if len(patched) == 0 {
		return nil, nil
	}
	if err := s.store.Commit(fmt.Sprintf("Apply overrides to %d records", len(patched))); err != nil {
		return nil, err
	}
	if err := s.store.Publish(ctx); err != nil {
		return nil, err
	}
	return patched, nil
}

// Close releases the counter database and removes a temporary checkout.
func (s *Session) Close() error {
	var errs []error
	if s.counter != nil {
		errs = append(errs, s.counter.Close())
		s.counter = nil
	}
	if s.tmpDir != "" {
		errs = append(errs, os.RemoveAll(s.tmpDir))
		s.tmpDir = ""
	}
	return errors.Join(errs...)
}

func (s *Session) persist(ctx context.Context, id types.Identifier, rec types.Record, msg string) error {
	if err := s.store.Write(id, rec); err != nil {
		return err
	}
	if err := s.store.Commit(msg); err != nil {
		return err
	}
	return s.store.Publish(ctx)
}
