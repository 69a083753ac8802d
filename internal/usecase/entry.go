package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/tadmccorkle/static-comments-with-firebase/internal/domain"
	"github.com/tadmccorkle/static-comments-with-firebase/internal/siteconfig"
)

var tracer = otel.Tracer("usecase")

// EntryUsecase drives the submission pipeline: resolve site config,
// validate and enrich fields, serialize, then publish directly or through a
// moderation review.
type EntryUsecase struct {
	hosts    RepoHostFactory
	subs     *SubscriptionUsecase
	captcha  CaptchaVerifier
	decrypt  siteconfig.DecryptFunc
	cfgCache *cache.Cache
}

func NewEntryUsecase(
	hosts RepoHostFactory,
	subs *SubscriptionUsecase,
	captcha CaptchaVerifier,
	decrypt siteconfig.DecryptFunc,
) *EntryUsecase {
	return &EntryUsecase{
		hosts:    hosts,
		subs:     subs,
		captcha:  captcha,
		decrypt:  decrypt,
		cfgCache: cache.New(3*time.Minute, 10*time.Minute),
	}
}

// Run is the per-submission pipeline context. All run state lives here;
// nothing is shared across requests.
type Run struct {
	Parameters domain.Parameters
	ConfigPath domain.ConfigPath
	UID        string
	User       *domain.User

	cfg *siteconfig.SiteConfig
}

// NewRun starts a pipeline run with a fresh time-ordered id. A nil
// configPath selects the well-known location for the run's property.
func (uc *EntryUsecase) NewRun(params domain.Parameters, configPath *domain.ConfigPath) *Run {
	path := domain.DefaultConfigPath(params.Property)
	if configPath != nil {
		path = *configPath
	}

	uid, err := uuid.NewUUID()
	if err != nil {
		uid = uuid.New()
	}

	return &Run{
		Parameters: params,
		ConfigPath: path,
		UID:        uid.String(),
	}
}

// SiteConfig resolves the run's site configuration, memoized for the run
// and briefly cached process-wide. Side-effect free.
func (uc *EntryUsecase) SiteConfig(ctx context.Context, run *Run, validate bool) (*siteconfig.SiteConfig, error) {
	if run.cfg != nil {
		return run.cfg, nil
	}

	ctx, span := tracer.Start(ctx, "Entry.SiteConfig")
	defer span.End()

	cacheKey := fmt.Sprintf("%s/%s/%s/%s:%s:%t",
		run.Parameters.Username, run.Parameters.Repository, run.Parameters.Branch,
		run.ConfigPath.File, run.ConfigPath.Path, validate)
	if cached, ok := uc.cfgCache.Get(cacheKey); ok {
		run.cfg = cached.(*siteconfig.SiteConfig)
		return run.cfg, nil
	}

	host := uc.hosts.NewClient(run.Parameters)
	document, err := host.ReadFile(ctx, run.ConfigPath.File, run.Parameters.Branch)
	if err != nil {
		if domain.UpstreamStatus(err) == 404 {
			if !validate {
				document = nil
			} else {
				span.RecordError(err)
				return nil, domain.ErrMissingConfig
			}
		} else {
			span.RecordError(err)
			return nil, err
		}
	}

	cfg, err := siteconfig.Parse(document, run.ConfigPath.Path, validate, uc.decrypt)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// A comment aimed at one branch must not silently post against another.
	if cfg.Branch != "" && cfg.Branch != run.Parameters.Branch {
		return nil, domain.ErrBranchMismatch
	}

	uc.cfgCache.Set(cacheKey, cfg, cache.DefaultExpiration)
	run.cfg = cfg
	return cfg, nil
}

// CheckCaptcha enforces the site's human-verification settings before any
// processing happens.
func (uc *EntryUsecase) CheckCaptcha(ctx context.Context, run *Run, options domain.Options, remoteIP string, validate bool) error {
	cfg, err := uc.SiteConfig(ctx, run, validate)
	if err != nil {
		return err
	}
	if !cfg.ReCaptcha.Enabled {
		return nil
	}

	opt := options.ReCaptcha()
	if opt == nil || opt.SiteKey == "" || opt.Secret == "" {
		return domain.NewError(domain.CodeMissingCaptchaCredentials, "missing reCAPTCHA credentials")
	}

	secret, err := uc.decrypt(opt.Secret)
	if err != nil {
		return domain.NewError(domain.CodeCaptchaFailedDecrypt, "could not decrypt reCAPTCHA secret")
	}
	if opt.SiteKey != cfg.ReCaptcha.SiteKey || secret != cfg.ReCaptcha.Secret {
		return domain.ErrCaptchaMismatch
	}

	ok, err := uc.captcha.Verify(ctx, cfg.ReCaptcha.Secret, opt.Response, remoteIP)
	if err != nil {
		return errors.Wrap(err, "reCAPTCHA verification")
	}
	if !ok {
		return domain.ErrCaptchaFailed
	}
	return nil
}

// ProcessResult is the outcome of a processed submission.
type ProcessResult struct {
	Fields   domain.Fields
	Redirect string
}

// ProcessEntry runs the full pipeline for one submission. Validation errors
// return before any external side effect.
func (uc *EntryUsecase) ProcessEntry(ctx context.Context, run *Run, fields domain.Fields, options domain.Options) (*ProcessResult, error) {
	ctx, span := tracer.Start(ctx, "Entry.ProcessEntry")
	defer span.End()

	cfg, err := uc.SiteConfig(ctx, run, true)
	if err != nil {
		return nil, err
	}

	validated, err := validateFields(fields, cfg)
	if err != nil {
		return nil, err
	}

	generated := applyGeneratedFields(validated, cfg, run.User, time.Now)
	transformed := applyTransforms(generated, cfg)
	record := applyInternalFields(transformed, run.UID, options.Parent())

	content, err := Serialize(record, cfg)
	if err != nil {
		return nil, err
	}

	phCtx := PlaceholderContext{UID: run.UID, Fields: transformed, Options: options}
	filePath := uc.resolveFilePath(cfg, phCtx)
	commitMessage := ResolvePlaceholders(cfg.CommitMessage, phCtx)

	// A commenter who asked to follow the thread gets a confirmation mail
	// before the entry is even accepted; failure to send is not fatal.
	if cfg.Notifications.Enabled && options.Parent() != "" && options.Subscribe() != "" {
		if email, ok := validated[options.Subscribe()].(string); ok && email != "" {
			if err := uc.subs.SendConfirmationRequestForEntry(ctx, cfg, run.Parameters, email, options.Parent()); err != nil {
				uc.logFailure(run, "could not send confirmation request", err)
			}
		}
	}

	host := uc.hosts.NewClient(run.Parameters)

	if cfg.Moderation {
		if err := uc.publishModerated(ctx, host, run, cfg, filePath, content, commitMessage, transformed, options); err != nil {
			span.RecordError(err)
			return nil, err
		}
	} else {
		if err := host.CommitFile(ctx, filePath, content, run.Parameters.Branch, commitMessage); err != nil {
			span.RecordError(err)
			return nil, err
		}
		if cfg.Notifications.Enabled && options.Parent() != "" {
			if err := uc.subs.Notify(ctx, cfg, run.Parameters, options.Parent(), options); err != nil {
				uc.logFailure(run, "could not notify subscribers", err)
			}
		}
	}

	return &ProcessResult{Fields: record, Redirect: options.Redirect()}, nil
}

// publishModerated creates the review branch, commits the entry there and
// opens the review. The entry is not published until a human merges it.
func (uc *EntryUsecase) publishModerated(
	ctx context.Context,
	host RepoHost,
	run *Run,
	cfg *siteconfig.SiteConfig,
	filePath string,
	content []byte,
	commitMessage string,
	fields domain.Fields,
	options domain.Options,
) error {
	head, err := host.GetBranchHead(ctx, run.Parameters.Branch)
	if err != nil {
		return err
	}

	branch := domain.BranchPrefix + run.UID
	if err := host.CreateBranch(ctx, branch, head); err != nil {
		return err
	}
	if err := host.CommitFile(ctx, filePath, content, branch, commitMessage); err != nil {
		return err
	}

	body := uc.buildReviewBody(run, cfg, fields, options)
	if _, err := host.CreateReview(ctx, commitMessage, branch, run.Parameters.Branch, body); err != nil {
		return err
	}
	return nil
}

// ProcessMerge resumes the notification step after a moderated entry was
// merged. Invoked from the webhook path with parameters recovered from the
// review marker.
func (uc *EntryUsecase) ProcessMerge(ctx context.Context, run *Run, fields domain.Fields, options domain.Options) error {
	ctx, span := tracer.Start(ctx, "Entry.ProcessMerge")
	defer span.End()

	cfg, err := uc.SiteConfig(ctx, run, true)
	if err != nil {
		return err
	}
	if !cfg.Notifications.Enabled || options.Parent() == "" {
		return nil
	}
	return uc.subs.Notify(ctx, cfg, run.Parameters, options.Parent(), options)
}

// ProcessEmail sends a confirmation request for a site-wide mailing list
// subscription.
func (uc *EntryUsecase) ProcessEmail(ctx context.Context, run *Run, fields domain.Fields) error {
	cfg, err := uc.SiteConfig(ctx, run, false)
	if err != nil {
		return err
	}

	email, _ := fields["email"].(string)
	if email == "" {
		return domain.NewError(domain.CodeMissingRequiredFields, "missing required fields", "email")
	}
	return uc.subs.SendConfirmationRequest(ctx, cfg, run.Parameters, email)
}

// ConfirmEmail completes a site-wide subscription confirmation.
func (uc *EntryUsecase) ConfirmEmail(ctx context.Context, run *Run, email, emailHash string) error {
	cfg, err := uc.SiteConfig(ctx, run, false)
	if err != nil {
		return err
	}
	return uc.subs.ConfirmSiteSubscription(ctx, cfg, email, emailHash)
}

// ConfirmEmailForEntry completes a per-entry thread subscription
// confirmation.
func (uc *EntryUsecase) ConfirmEmailForEntry(ctx context.Context, run *Run, entryHash, email, emailHash string) error {
	cfg, err := uc.SiteConfig(ctx, run, false)
	if err != nil {
		return err
	}
	return uc.subs.ConfirmEntrySubscription(ctx, cfg, entryHash, email, emailHash)
}

// buildReviewBody renders the moderator-facing field table and, when
// notifications are on, embeds the continuation marker.
func (uc *EntryUsecase) buildReviewBody(run *Run, cfg *siteconfig.SiteConfig, fields domain.Fields, options domain.Options) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var table strings.Builder
	table.WriteString("| Field | Content |\n| --- | --- |\n")
	for _, name := range names {
		table.WriteString(fmt.Sprintf("| %s | %v |\n", name, fields[name]))
	}

	body := cfg.PullRequestBody + table.String()

	if cfg.Notifications.Enabled {
		marker := domain.ReviewMarker{
			ConfigPath: run.ConfigPath,
			Fields:     fields,
			Options:    options,
			Parameters: run.Parameters,
		}
		body += "\n\n" + marker.Encode()
	}

	return body
}

func (uc *EntryUsecase) resolveFilePath(cfg *siteconfig.SiteConfig, phCtx PlaceholderContext) string {
	filename := phCtx.UID
	if cfg.Filename != "" {
		filename = ResolvePlaceholders(cfg.Filename, phCtx)
	}

	path := strings.TrimSuffix(ResolvePlaceholders(cfg.Path, phCtx), "/")

	return fmt.Sprintf("%s/%s.%s", path, filename, cfg.FileExtension())
}

func (uc *EntryUsecase) logFailure(run *Run, message string, err error) {
	slog.Error(message,
		slog.String("error", err.Error()),
		slog.String("account", run.Parameters.Username),
		slog.String("repository", run.Parameters.Repository),
		slog.String("module", "entry"),
	)
}
