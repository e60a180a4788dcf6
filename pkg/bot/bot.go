// Package bot runs one pass over the issue tracker: identifiers are assigned to
// new submissions and approved provisional identifiers are promoted.
package bot

import (
	"context"

	"golang.org/x/xerrors"

	"github.com/cvedb/cvedb-tools/pkg/github"
	"github.com/cvedb/cvedb-tools/pkg/log"
	"github.com/cvedb/cvedb-tools/pkg/types"
)

// Tracker is where submissions come from and where results are reported.
type Tracker interface {
	NewSubmissions(ctx context.Context) ([]github.Submission, error)
	ApprovedCandidates(ctx context.Context) ([]github.Submission, error)
	WhoApproved(ctx context.Context, sub github.Submission) (string, bool, error)
	AssignID(ctx context.Context, sub github.Submission, id types.Identifier) error
	MarkPromoted(ctx context.Context, sub github.Submission, confirmed types.Identifier) error
}

// Registry is the record store session the bot writes to.
type Registry interface {
	IsApproved(identity string) bool
	Add(ctx context.Context, intake types.Intake, origin string) (types.Identifier, error)
	Promote(ctx context.Context, id types.Identifier, approver, origin string) (types.Identifier, error)
	Close() error
}

// Opener starts a registry session. It is only called when there is work to do.
type Opener func(ctx context.Context) (Registry, error)

type Result struct {
	Added    []types.Identifier
	Promoted []types.Identifier
	Skipped  int
}

type Bot struct {
	tracker Tracker
	open    Opener
	logger  *log.Logger
}

func New(tracker Tracker, open Opener) Bot {
	return Bot{
		tracker: tracker,
		open:    open,
		logger:  log.WithPrefix("bot"),
	}
}

// Run processes every pending issue once. A failure on one issue is logged and
// the run moves on to the next.
func (b Bot) Run(ctx context.Context) (_ Result, err error) {
	var res Result

	subs, err := b.tracker.NewSubmissions(ctx)
	if err != nil {
		return res, xerrors.Errorf("new submissions: %w", err)
	}
	candidates, err := b.tracker.ApprovedCandidates(ctx)
	if err != nil {
		return res, xerrors.Errorf("approved candidates: %w", err)
	}
	b.logger.Info("Fetched issues", log.Int("new", len(subs)), log.Int("approved", len(candidates)))

	if len(subs) == 0 && len(candidates) == 0 {
		return res, nil
	}

	reg, err := b.open(ctx)
	if err != nil {
		return res, xerrors.Errorf("registry open error: %w", err)
	}
	defer func() {
		if cerr := reg.Close(); cerr != nil && err == nil {
			err = xerrors.Errorf("registry close error: %w", cerr)
		}
	}()

	for _, sub := range subs {
		id, ok := b.add(ctx, reg, sub)
		if !ok {
			res.Skipped++
			continue
		}
		res.Added = append(res.Added, id)
	}

	for _, sub := range candidates {
		id, ok := b.promote(ctx, reg, sub)
		if !ok {
			res.Skipped++
			continue
		}
		res.Promoted = append(res.Promoted, id)
	}
	return res, nil
}

func (b Bot) add(ctx context.Context, reg Registry, sub github.Submission) (types.Identifier, bool) {
	logger := b.logger.With(log.Issue(sub.Number))

	if id, ok := sub.Identifier(); ok {
		logger.Warn("Identifier already in the title", log.ID(id))
		return types.Identifier{}, false
	}
	if !reg.IsApproved(types.Identity(sub.Creator, sub.CreatorID)) {
		logger.Info("Issue is not created by an approved user", log.String("creator", sub.Creator))
		return types.Identifier{}, false
	}

	intake, err := sub.Intake()
	if err != nil {
		logger.Warn("Unable to read the submission", log.Err(err))
		return types.Identifier{}, false
	}

	id, err := reg.Add(ctx, intake, sub.Origin())
	if err != nil {
		logger.Error("Failed to add a record", log.Err(err))
		return types.Identifier{}, false
	}
	if err = b.tracker.AssignID(ctx, sub, id); err != nil {
		// the record exists, only the issue is stale
		logger.Error("Failed to update the issue", log.ID(id), log.Err(err))
	}
	return id, true
}

func (b Bot) promote(ctx context.Context, reg Registry, sub github.Submission) (types.Identifier, bool) {
	logger := b.logger.With(log.Issue(sub.Number))

	id, ok := sub.Identifier()
	if !ok {
		return types.Identifier{}, false
	}

	approver, ok, err := b.tracker.WhoApproved(ctx, sub)
	if err != nil {
		logger.Error("Failed to find the approver", log.Err(err))
		return types.Identifier{}, false
	} else if !ok || !reg.IsApproved(approver) {
		logger.Info("Approval is not from an approved user", log.ID(id), log.String("approver", approver))
		return types.Identifier{}, false
	}

	confirmed, err := reg.Promote(ctx, id, approver, sub.Origin())
	if err != nil {
		logger.Error("Failed to promote", log.ID(id), log.Err(err))
		return types.Identifier{}, false
	}
	if err = b.tracker.MarkPromoted(ctx, sub, confirmed); err != nil {
		logger.Error("Failed to update the issue", log.ID(confirmed), log.Err(err))
	}
	return confirmed, true
}
