package usecase

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tadmccorkle/static-comments-with-firebase/internal/domain"
)

// PullRequestEvent is the slice of the host's webhook payload this service
// cares about.
type PullRequestEvent struct {
	Action     string `json:"action"`
	Number     int    `json:"number"`
	Repository struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
}

// WebhookUsecase resolves moderation outcomes. It is a second, independent
// unit of work, correlated to the original submission only through the
// review marker.
type WebhookUsecase struct {
	hosts   RepoHostFactory
	entries *EntryUsecase
}

func NewWebhookUsecase(hosts RepoHostFactory, entries *EntryUsecase) *WebhookUsecase {
	return &WebhookUsecase{hosts: hosts, entries: entries}
}

// HandlePullRequest inspects a review event. Reviews not created by this
// service are ignored outright. For merged reviews the embedded marker
// resumes the notification step; either way the source branch is cleaned
// up, and cleanup happens even when the marker cannot be used.
func (uc *WebhookUsecase) HandlePullRequest(ctx context.Context, event PullRequestEvent) error {
	ctx, span := tracer.Start(ctx, "Webhook.HandlePullRequest")
	defer span.End()

	if event.Number == 0 {
		return nil
	}

	params := domain.Parameters{
		Username:   event.Repository.Owner.Login,
		Repository: event.Repository.Name,
	}
	host := uc.hosts.NewClient(params)

	review, err := host.GetReview(ctx, event.Number)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if !strings.HasPrefix(review.SourceBranch, domain.BranchPrefix) {
		return nil
	}
	if review.State != domain.ReviewMerged && review.State != domain.ReviewClosed {
		return nil
	}

	if review.State == domain.ReviewMerged {
		uc.resumeNotification(ctx, params, review)
	}

	return host.DeleteBranch(ctx, review.SourceBranch)
}

// resumeNotification parses the review marker and dispatches the deferred
// notification. Failures are logged, never returned: branch cleanup must
// not be blocked by a bad marker.
func (uc *WebhookUsecase) resumeNotification(ctx context.Context, params domain.Parameters, review domain.Review) {
	marker, err := domain.ExtractMarker(review.Body)
	if err != nil {
		slog.Error("could not parse review marker",
			slog.String("error", err.Error()),
			slog.String("account", params.Username),
			slog.String("repository", params.Repository),
			slog.String("module", "webhook"),
		)
		return
	}
	if marker == nil {
		return
	}

	run := uc.entries.NewRun(marker.Parameters, &marker.ConfigPath)
	if err := uc.entries.ProcessMerge(ctx, run, marker.Fields, marker.Options); err != nil {
		slog.Error("could not process merge notification",
			slog.String("error", err.Error()),
			slog.String("account", marker.Parameters.Username),
			slog.String("repository", marker.Parameters.Repository),
			slog.String("module", "webhook"),
		)
	}
}
