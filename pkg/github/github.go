// Package github reads vulnerability submissions from the issues of a GitHub
// repository and reports assigned and promoted identifiers back to them.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/go-github/v28/github"
	"github.com/samber/lo"
	"golang.org/x/oauth2"
	"golang.org/x/xerrors"

	"github.com/cvedb/cvedb-tools/pkg/log"
	"github.com/cvedb/cvedb-tools/pkg/types"
)

const (
	LabelNew      = "new"
	LabelApproved = "approved"
	LabelAssigned = "assigned"

	perPage = 100
)

var (
	ErrNoPayload = xerrors.New("no JSON payload in issue body")

	fencedJSON = regexp.MustCompile("(?s)```json[ \t]*\r?\n(.*?)```")
)

type IssueInterface interface {
	ListByRepo(ctx context.Context, opt *github.IssueListByRepoOptions) ([]*github.Issue, *github.Response, error)
	Edit(ctx context.Context, number int, issue *github.IssueRequest) (*github.Issue, *github.Response, error)
	ListIssueEvents(ctx context.Context, number int, opt *github.ListOptions) ([]*github.IssueEvent, *github.Response, error)
	AddLabelsToIssue(ctx context.Context, number int, labels []string) ([]*github.Label, *github.Response, error)
	RemoveLabelForIssue(ctx context.Context, number int, label string) (*github.Response, error)
	CreateComment(ctx context.Context, number int, comment *github.IssueComment) (*github.IssueComment, *github.Response, error)
}

type Issues struct {
	issues   *github.IssuesService
	owner    string
	repoName string
}

func (r Issues) ListByRepo(ctx context.Context, opt *github.IssueListByRepoOptions) ([]*github.Issue, *github.Response, error) {
	return r.issues.ListByRepo(ctx, r.owner, r.repoName, opt)
}

func (r Issues) Edit(ctx context.Context, number int, issue *github.IssueRequest) (*github.Issue, *github.Response, error) {
	return r.issues.Edit(ctx, r.owner, r.repoName, number, issue)
}

func (r Issues) ListIssueEvents(ctx context.Context, number int, opt *github.ListOptions) ([]*github.IssueEvent, *github.Response, error) {
	return r.issues.ListIssueEvents(ctx, r.owner, r.repoName, number, opt)
}

func (r Issues) AddLabelsToIssue(ctx context.Context, number int, labels []string) ([]*github.Label, *github.Response, error) {
	return r.issues.AddLabelsToIssue(ctx, r.owner, r.repoName, number, labels)
}

func (r Issues) RemoveLabelForIssue(ctx context.Context, number int, label string) (*github.Response, error) {
	return r.issues.RemoveLabelForIssue(ctx, r.owner, r.repoName, number, label)
}

func (r Issues) CreateComment(ctx context.Context, number int, comment *github.IssueComment) (*github.IssueComment, *github.Response, error) {
	return r.issues.CreateComment(ctx, r.owner, r.repoName, number, comment)
}

// Submission is an issue filed to request an identifier.
type Submission struct {
	Number    int
	Title     string
	Creator   string
	CreatorID int64
	URL       string
	Body      string
}

func newSubmission(issue *github.Issue) Submission {
	return Submission{
		Number:    issue.GetNumber(),
		Title:     issue.GetTitle(),
		Creator:   issue.GetUser().GetLogin(),
		CreatorID: issue.GetUser().GetID(),
		URL:       issue.GetHTMLURL(),
		Body:      issue.GetBody(),
	}
}

// Identifier returns the identifier mentioned in the title, if any.
func (s Submission) Identifier() (types.Identifier, bool) {
	return types.FindIdentifier(s.Title)
}

// Origin is how records and commits refer back to the issue.
func (s Submission) Origin() string {
	if s.URL != "" {
		return s.URL
	}
	return fmt.Sprintf("#%d", s.Number)
}

// Intake decodes the payload of the issue: the first fenced json block of the
// body, or the whole body when it is bare JSON.
func (s Submission) Intake() (types.Intake, error) {
	payload := strings.TrimSpace(s.Body)
	if m := fencedJSON.FindStringSubmatch(s.Body); m != nil {
		payload = strings.TrimSpace(m[1])
	} else if !strings.HasPrefix(payload, "{") {
		return types.Intake{}, xerrors.Errorf("issue #%d: %w", s.Number, ErrNoPayload)
	}

	var in types.Intake
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		return types.Intake{}, xerrors.Errorf("issue #%d payload decode error: %w", s.Number, err)
	}
	return in, nil
}

type Client struct {
	Issues IssueInterface
	logger *log.Logger
}

func NewClient(ctx context.Context, owner, repo, token string) Client {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)
	gc := github.NewClient(tc)

	return NewClientWithIssues(Issues{
		issues:   gc.Issues,
		owner:    owner,
		repoName: repo,
	})
}

func NewClientWithIssues(issues IssueInterface) Client {
	return Client{
		Issues: issues,
		logger: log.WithPrefix("github"),
	}
}

// ParseRepo splits "owner/repo".
func ParseRepo(s string) (string, string, error) {
	owner, repo, ok := strings.Cut(s, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", xerrors.Errorf("repository must be owner/name: %q", s)
	}
	return owner, repo, nil
}

// NewSubmissions returns the open issues labelled new. Pull requests are skipped.
func (c Client) NewSubmissions(ctx context.Context) ([]Submission, error) {
	issues, err := c.listOpen(ctx, LabelNew)
	if err != nil {
		return nil, xerrors.Errorf("failed to list new issues: %w", err)
	}
	return lo.Map(issues, func(issue *github.Issue, _ int) Submission {
		return newSubmission(issue)
	}), nil
}

// ApprovedCandidates returns the open issues labelled approved whose title carries
// a provisional identifier.
func (c Client) ApprovedCandidates(ctx context.Context) ([]Submission, error) {
	issues, err := c.listOpen(ctx, LabelApproved)
	if err != nil {
		return nil, xerrors.Errorf("failed to list approved issues: %w", err)
	}

	var subs []Submission
	for _, issue := range issues {
		sub := newSubmission(issue)
		if id, ok := sub.Identifier(); !ok || !id.IsProvisional() {
			c.logger.Debug("No provisional identifier in the title", log.Issue(sub.Number))
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (c Client) listOpen(ctx context.Context, label string) ([]*github.Issue, error) {
	opt := &github.IssueListByRepoOptions{
		State:  "open",
		Labels: []string{label},
		ListOptions: github.ListOptions{
			PerPage: perPage,
		},
	}

	var all []*github.Issue
	for {
		issues, res, err := c.Issues.ListByRepo(ctx, opt)
		if err != nil {
			return nil, err
		}
		all = append(all, lo.Reject(issues, func(issue *github.Issue, _ int) bool {
			return issue.IsPullRequest()
		})...)

		if res == nil || res.NextPage == 0 {
			break
		}
		opt.Page = res.NextPage
	}
	return all, nil
}

// WhoApproved returns the "login:id" of whoever last added the approved label.
func (c Client) WhoApproved(ctx context.Context, sub Submission) (string, bool, error) {
	opt := &github.ListOptions{PerPage: perPage}

	var approver *github.User
	for {
		events, res, err := c.Issues.ListIssueEvents(ctx, sub.Number, opt)
		if err != nil {
			return "", false, xerrors.Errorf("failed to list events of #%d: %w", sub.Number, err)
		}
		for _, e := range events {
			if e.GetEvent() == "labeled" && e.GetLabel().GetName() == LabelApproved {
				approver = e.GetActor()
			}
		}

		if res == nil || res.NextPage == 0 {
			break
		}
		opt.Page = res.NextPage
	}

	if approver == nil {
		return "", false, nil
	}
	return types.Identity(approver.GetLogin(), approver.GetID()), true, nil
}

// AssignID records the identifier on the issue: in the title, as a label change
// and as a comment.
func (c Client) AssignID(ctx context.Context, sub Submission, id types.Identifier) error {
	title := fmt.Sprintf("[%s] %s", id, sub.Title)
	if _, _, err := c.Issues.Edit(ctx, sub.Number, &github.IssueRequest{Title: github.String(title)}); err != nil {
		return xerrors.Errorf("failed to edit #%d: %w", sub.Number, err)
	}
	if err := c.removeLabel(ctx, sub.Number, LabelNew); err != nil {
		return err
	}
	if _, _, err := c.Issues.AddLabelsToIssue(ctx, sub.Number, []string{LabelAssigned}); err != nil {
		return xerrors.Errorf("failed to label #%d: %w", sub.Number, err)
	}

	body := fmt.Sprintf("%s has been assigned.", id)
	if id.IsProvisional() {
		body = fmt.Sprintf("%s has been assigned. It will be promoted once the submission is approved.", id)
	}
	if _, _, err := c.Issues.CreateComment(ctx, sub.Number, &github.IssueComment{Body: github.String(body)}); err != nil {
		return xerrors.Errorf("failed to comment on #%d: %w", sub.Number, err)
	}

	c.logger.Info("Assigned identifier", log.Issue(sub.Number), log.ID(id))
	return nil
}

// MarkPromoted replaces the provisional identifier in the title with confirmed
// and closes the issue.
func (c Client) MarkPromoted(ctx context.Context, sub Submission, confirmed types.Identifier) error {
	title := sub.Title
	if id, ok := sub.Identifier(); ok {
		title = strings.Replace(title, id.String(), confirmed.String(), 1)
	}

	req := &github.IssueRequest{
		Title: github.String(title),
		State: github.String("closed"),
	}
	if _, _, err := c.Issues.Edit(ctx, sub.Number, req); err != nil {
		return xerrors.Errorf("failed to edit #%d: %w", sub.Number, err)
	}
	if err := c.removeLabel(ctx, sub.Number, LabelApproved); err != nil {
		return err
	}

	c.logger.Info("Promoted issue", log.Issue(sub.Number), log.ID(confirmed))
	return nil
}

func (c Client) removeLabel(ctx context.Context, number int, label string) error {
	res, err := c.Issues.RemoveLabelForIssue(ctx, number, label)
	if res != nil && res.Response != nil && res.StatusCode == http.StatusNotFound {
		return nil
	} else if err != nil {
		return xerrors.Errorf("failed to remove label %q from #%d: %w", label, number, err)
	}
	return nil
}
