// Package gitrepo is the durable transport behind the record store: a working
// checkout of the database repository that files are staged into, committed,
// and pushed from.
package gitrepo

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"golang.org/x/xerrors"
	"k8s.io/utils/clock"

	"github.com/cvedb/cvedb-tools/pkg/log"
)

const (
	defaultAuthorName  = "cvedb-bot"
	defaultAuthorEmail = "cvedb-bot@users.noreply.github.com"
)

type Options struct {
	// DryRun turns Commit and Push into no-ops. Files are still written and staged.
	DryRun bool

	Username string
	Token    string

	AuthorName  string
	AuthorEmail string

	Clock clock.Clock
}

func (o Options) auth() transport.AuthMethod {
	if o.Token == "" {
		return nil
	}
	// GitHub accepts any non-empty user name with a token
	username := o.Username
	if username == "" {
		username = defaultAuthorName
	}
	return &githttp.BasicAuth{
		Username: username,
		Password: o.Token,
	}
}

type Repo struct {
	repo     *git.Repository
	worktree *git.Worktree
	root     string
	opts     Options
	logger   *log.Logger
}

// Clone clones url into dir and returns the checkout.
func Clone(ctx context.Context, url, dir string, opts Options) (*Repo, error) {
	log.Info("Cloning the database repository", log.String("url", url), log.DirPath(dir))
	r, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:  url,
		Auth: opts.auth(),
	})
	if err != nil {
		return nil, xerrors.Errorf("git clone error (%s): %w", url, err)
	}
	return newRepo(r, dir, opts)
}

// Open opens an existing checkout.
func Open(dir string, opts Options) (*Repo, error) {
	r, err := git.PlainOpen(dir)
	if err != nil {
		return nil, xerrors.Errorf("git open error (%s): %w", dir, err)
	}
	return newRepo(r, dir, opts)
}

func newRepo(r *git.Repository, dir string, opts Options) (*Repo, error) {
	wt, err := r.Worktree()
	if err != nil {
		return nil, xerrors.Errorf("worktree error: %w", err)
	}
	if opts.AuthorName == "" {
		opts.AuthorName = defaultAuthorName
	}
	if opts.AuthorEmail == "" {
		opts.AuthorEmail = defaultAuthorEmail
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, xerrors.Errorf("abs path error: %w", err)
	}
	return &Repo{
		repo:     r,
		worktree: wt,
		root:     root,
		opts:     opts,
		logger:   log.WithPrefix("git"),
	}, nil
}

// Root returns the absolute path of the working tree.
func (r *Repo) Root() string {
	return r.root
}

// Add stages a file. path may be absolute or relative to the working tree.
func (r *Repo) Add(path string) error {
	rel, err := r.rel(path)
	if err != nil {
		return err
	}
	if _, err = r.worktree.Add(filepath.ToSlash(rel)); err != nil {
		return xerrors.Errorf("git add error (%s): %w", rel, err)
	}
	r.logger.Debug("Staged", log.FilePath(rel))
	return nil
}

// Commit records the staged changes.
func (r *Repo) Commit(msg string) error {
	if r.opts.DryRun {
		r.logger.Info("Dry run, skipping commit", log.String("message", msg))
		return nil
	}

	hash, err := r.worktree.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{
			Name:  r.opts.AuthorName,
			Email: r.opts.AuthorEmail,
			When:  r.opts.Clock.Now(),
		},
	})
	if err != nil {
		return xerrors.Errorf("git commit error: %w", err)
	}
	r.logger.Info("Committed", log.String("hash", hash.String()), log.String("message", msg))
	return nil
}

// Push publishes local commits to the origin remote.
func (r *Repo) Push(ctx context.Context) error {
	if r.opts.DryRun {
		r.logger.Info("Dry run, skipping push")
		return nil
	}

	err := r.repo.PushContext(ctx, &git.PushOptions{
		Auth: r.opts.auth(),
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	} else if err != nil {
		return xerrors.Errorf("git push error: %w", err)
	}
	r.logger.Info("Pushed")
	return nil
}

// Status returns the state of the working tree and the index.
func (r *Repo) Status() (git.Status, error) {
	status, err := r.worktree.Status()
	if err != nil {
		return nil, xerrors.Errorf("git status error: %w", err)
	}
	return status, nil
}

func (r *Repo) rel(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return path, nil
	}
	rel, err := filepath.Rel(r.root, path)
	if err != nil {
		return "", xerrors.Errorf("path error (%s): %w", path, err)
	}
	if !filepath.IsLocal(rel) {
		return "", xerrors.Errorf("%s is outside of the working tree %s", path, r.root)
	}
	return rel, nil
}
