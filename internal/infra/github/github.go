// Package github is the repository-host client. It speaks the REST v3 API
// directly; only the handful of endpoints the pipeline needs are wrapped.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/tadmccorkle/static-comments-with-firebase/internal/config"
	"github.com/tadmccorkle/static-comments-with-firebase/internal/domain"
)

const (
	userAgent      = "Comment Bot v1.0"
	defaultTimeout = 10 * time.Second
	maxRetries     = 2
)

// Factory builds repository-scoped clients from the process configuration.
type Factory struct {
	cfg config.GitHub
}

func NewFactory(cfg config.GitHub) *Factory {
	return &Factory{cfg: cfg}
}

// NewClient binds a client to one target repository. The return type is the
// concrete client; usecases consume it through their RepoHost port.
func (f *Factory) NewClient(params domain.Parameters) *Client {
	return New(f.cfg, params.Username, params.Repository)
}

type Client struct {
	baseURL string
	token   string
	owner   string
	repo    string
	client  *http.Client
}

func New(cfg config.GitHub, owner, repo string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		owner:   owner,
		repo:    repo,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// apiError is the host's error envelope. Only the message field is kept and
// it is never surfaced to submitters.
type apiError struct {
	Message string `json:"message"`
}

// do performs one API call with retries on transient failures. Responses
// with 4xx statuses are permanent; 5xx and transport errors are retried.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, op)
		}
	}

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(&domain.UpstreamError{Op: op, Err: err})
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/vnd.github.v3+json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "token "+c.token)
		}

		res, err := c.client.Do(req)
		if err != nil {
			return &domain.UpstreamError{Op: op, Err: err}
		}
		defer res.Body.Close()

		if res.StatusCode >= 400 {
			var envelope apiError
			raw, _ := io.ReadAll(res.Body)
			_ = json.Unmarshal(raw, &envelope)

			upstream := &domain.UpstreamError{
				Op:         op,
				StatusCode: res.StatusCode,
				Err:        errors.Errorf("github: %s", envelope.Message),
			}
			if res.StatusCode >= 500 {
				return upstream
			}
			return backoff.Permanent(upstream)
		}

		if out != nil {
			if err := json.NewDecoder(res.Body).Decode(out); err != nil {
				return backoff.Permanent(&domain.UpstreamError{Op: op, Err: err})
			}
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	return backoff.Retry(attempt, policy)
}

func (c *Client) repoPath(format string, args ...any) string {
	return fmt.Sprintf("/repos/%s/%s", c.owner, c.repo) + fmt.Sprintf(format, args...)
}

// ReadFile fetches a file's raw content at ref.
func (c *Client) ReadFile(ctx context.Context, path, ref string) ([]byte, error) {
	var res struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}

	endpoint := c.repoPath("/contents/%s", escapePath(path))
	if ref != "" {
		endpoint += "?ref=" + url.QueryEscape(ref)
	}
	if err := c.do(ctx, "github.readFile", http.MethodGet, endpoint, nil, &res); err != nil {
		return nil, err
	}

	content, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(res.Content, "\n", ""))
	if err != nil {
		return nil, &domain.UpstreamError{Op: "github.readFile", Err: err}
	}
	return content, nil
}

// GetBranchHead returns the branch's head commit id.
func (c *Client) GetBranchHead(ctx context.Context, branch string) (string, error) {
	var res struct {
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}

	endpoint := c.repoPath("/branches/%s", escapePath(branch))
	if err := c.do(ctx, "github.getBranchHead", http.MethodGet, endpoint, nil, &res); err != nil {
		return "", err
	}
	return res.Commit.SHA, nil
}

// CreateBranch creates a new ref at fromCommit.
func (c *Client) CreateBranch(ctx context.Context, name, fromCommit string) error {
	body := map[string]string{
		"ref": "refs/heads/" + name,
		"sha": fromCommit,
	}
	return c.do(ctx, "github.createBranch", http.MethodPost, c.repoPath("/git/refs"), body, nil)
}

// DeleteBranch removes a ref. Deleting a branch that is already gone is a
// no-op; webhook events may be delivered more than once.
func (c *Client) DeleteBranch(ctx context.Context, name string) error {
	endpoint := c.repoPath("/git/refs/heads/%s", escapePath(name))
	err := c.do(ctx, "github.deleteBranch", http.MethodDelete, endpoint, nil, nil)
	if status := domain.UpstreamStatus(err); status == 404 || status == 422 {
		slog.Debug("branch already deleted",
			slog.String("branch", name),
			slog.String("module", "github"),
		)
		return nil
	}
	return err
}

// CommitFile creates a file on branch. A collision with an existing file is
// reported as the distinct FileAlreadyExists error so callers can tell a
// benign duplicate from a transient write failure.
func (c *Client) CommitFile(ctx context.Context, path string, content []byte, branch, message string) error {
	body := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
		"branch":  branch,
	}

	endpoint := c.repoPath("/contents/%s", escapePath(path))
	err := c.do(ctx, "github.commitFile", http.MethodPut, endpoint, body, nil)
	if domain.UpstreamStatus(err) == 422 {
		// Creating without a known revision marker fails 422 when the
		// path already exists.
		return domain.ErrFileExists
	}
	return err
}

// CreateReview opens a pull request and returns its number.
func (c *Client) CreateReview(ctx context.Context, title, headBranch, baseBranch, reviewBody string) (int, error) {
	body := map[string]string{
		"title": title,
		"head":  headBranch,
		"base":  baseBranch,
		"body":  reviewBody,
	}

	var res struct {
		Number int `json:"number"`
	}
	if err := c.do(ctx, "github.createReview", http.MethodPost, c.repoPath("/pulls"), body, &res); err != nil {
		return 0, err
	}
	return res.Number, nil
}

// GetReview fetches a pull request's current state.
func (c *Client) GetReview(ctx context.Context, id int) (domain.Review, error) {
	var res struct {
		Title  string `json:"title"`
		Body   string `json:"body"`
		State  string `json:"state"`
		Merged bool   `json:"merged"`
		Head   struct {
			Ref string `json:"ref"`
		} `json:"head"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
	}

	endpoint := c.repoPath("/pulls/%d", id)
	if err := c.do(ctx, "github.getReview", http.MethodGet, endpoint, nil, &res); err != nil {
		return domain.Review{}, err
	}

	state := domain.ReviewState(res.State)
	if res.Merged && res.State == "closed" {
		state = domain.ReviewMerged
	}

	return domain.Review{
		Title:        res.Title,
		Body:         res.Body,
		State:        state,
		SourceBranch: res.Head.Ref,
		BaseBranch:   res.Base.Ref,
	}, nil
}

// Invitation is a pending repository collaboration invitation.
type Invitation struct {
	ID         int `json:"id"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// ListInvitations returns the authenticated account's pending invitations.
func (c *Client) ListInvitations(ctx context.Context) ([]Invitation, error) {
	var res []Invitation
	if err := c.do(ctx, "github.listInvitations", http.MethodGet, "/user/repository_invitations", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// AcceptInvitation accepts a pending invitation.
func (c *Client) AcceptInvitation(ctx context.Context, id int) error {
	endpoint := fmt.Sprintf("/user/repository_invitations/%d", id)
	return c.do(ctx, "github.acceptInvitation", http.MethodPatch, endpoint, nil, nil)
}

// escapePath escapes each path segment while keeping separators.
func escapePath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
