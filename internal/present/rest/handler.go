package rest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/tadmccorkle/static-comments-with-firebase/internal/domain"
	"github.com/tadmccorkle/static-comments-with-firebase/internal/infra/github"
	"github.com/tadmccorkle/static-comments-with-firebase/internal/present/rest/presenter"
	"github.com/tadmccorkle/static-comments-with-firebase/internal/usecase"
)

const description = "Comment Bot: process comments and subscriptions for static sites"

// Encrypter is the public-key half of the encryption capability, exposed so
// site owners can produce encrypted config values.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// DeliveryLog tracks processed webhook delivery ids so repeated deliveries
// can be skipped.
type DeliveryLog interface {
	Seen(ctx context.Context, deliveryID string) bool
	Forget(ctx context.Context, deliveryID string)
}

type Handler struct {
	entries       *usecase.EntryUsecase
	webhooks      *usecase.WebhookUsecase
	dedupe        DeliveryLog
	hosts         *github.Factory
	encrypter     Encrypter
	webhookSecret string
}

func NewHandler(
	entries *usecase.EntryUsecase,
	webhooks *usecase.WebhookUsecase,
	dedupe DeliveryLog,
	hosts *github.Factory,
	encrypter Encrypter,
	webhookSecret string,
) *Handler {
	return &Handler{
		entries:       entries,
		webhooks:      webhooks,
		dedupe:        dedupe,
		hosts:         hosts,
		encrypter:     encrypter,
		webhookSecret: webhookSecret,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.handleHome)
	e.GET("/encrypt/:text", h.handleEncrypt)
	e.POST("/entry/:username/:repository/:branch/:property", h.handleEntry)
	e.POST("/email/:username/:repository/:branch/:property", h.handleEmail)
	e.GET("/confirm/:username/:repository/:branch/:property/:email/:emailhash", h.handleConfirm)
	e.GET("/confirm/:username/:repository/:branch/:property/:entry/:email/:emailhash", h.handleConfirmForEntry)
	e.GET("/connect/:username/:repository", h.handleConnect)
	e.POST("/webhook", h.handleWebhook)
}

func (h *Handler) handleHome(c echo.Context) error {
	c.Response().Header().Set("Cache-Control", "public, max-age=300, s-maxage=600")
	return c.String(http.StatusOK, description)
}

func (h *Handler) handleEncrypt(c echo.Context) error {
	encrypted, err := h.encrypter.Encrypt(c.Param("text"))
	if err != nil {
		return c.String(http.StatusInternalServerError, "Could not encrypt text.")
	}
	return c.String(http.StatusOK, encrypted)
}

func pathParameters(c echo.Context) domain.Parameters {
	return domain.Parameters{
		Username:   c.Param("username"),
		Repository: c.Param("repository"),
		Branch:     c.Param("branch"),
		Property:   c.Param("property"),
	}
}

func (h *Handler) handleEntry(c echo.Context) error {
	ctx := c.Request().Context()

	fields, options, err := parseSubmission(c)
	if err != nil {
		return presenter.Failure(c, err, "")
	}

	run := h.entries.NewRun(pathParameters(c), nil)

	if err := h.entries.CheckCaptcha(ctx, run, options, c.RealIP(), true); err != nil {
		return presenter.Failure(c, err, options.RedirectError())
	}

	result, err := h.entries.ProcessEntry(ctx, run, fields, options)
	if err != nil {
		h.logError(c, run.Parameters, "could not process entry", err)
		return presenter.Failure(c, err, options.RedirectError())
	}

	return presenter.Success(c, result.Fields, result.Redirect)
}

func (h *Handler) handleEmail(c echo.Context) error {
	ctx := c.Request().Context()

	fields, options, err := parseSubmission(c)
	if err != nil {
		return presenter.Failure(c, err, "")
	}

	run := h.entries.NewRun(pathParameters(c), nil)

	if err := h.entries.CheckCaptcha(ctx, run, options, c.RealIP(), false); err != nil {
		return presenter.Failure(c, err, options.RedirectError())
	}

	if err := h.entries.ProcessEmail(ctx, run, fields); err != nil {
		h.logError(c, run.Parameters, "could not process email request", err)
		return presenter.Failure(c, err, options.RedirectError())
	}

	return presenter.Success(c, nil, options.Redirect())
}

func (h *Handler) handleConfirm(c echo.Context) error {
	ctx := c.Request().Context()
	run := h.entries.NewRun(pathParameters(c), nil)

	err := h.entries.ConfirmEmail(ctx, run, c.Param("email"), c.Param("emailhash"))
	if err != nil {
		h.logError(c, run.Parameters, "could not confirm email", err)
		return c.String(http.StatusInternalServerError, "Could not confirm email.")
	}
	return c.String(http.StatusOK, "Your email has been confirmed.")
}

func (h *Handler) handleConfirmForEntry(c echo.Context) error {
	ctx := c.Request().Context()
	run := h.entries.NewRun(pathParameters(c), nil)

	err := h.entries.ConfirmEmailForEntry(ctx, run, c.Param("entry"), c.Param("email"), c.Param("emailhash"))
	if err != nil {
		h.logError(c, run.Parameters, "could not confirm email for entry", err)
		return c.String(http.StatusInternalServerError, "Could not confirm email.")
	}
	return c.String(http.StatusOK, "Your email has been confirmed.")
}

// handleConnect accepts a pending collaboration invitation so the bot
// account can write to the site's repository.
func (h *Handler) handleConnect(c echo.Context) error {
	ctx := c.Request().Context()
	params := domain.Parameters{
		Username:   c.Param("username"),
		Repository: c.Param("repository"),
	}

	client := h.hosts.NewClient(params)
	invitations, err := client.ListInvitations(ctx)
	if err != nil {
		h.logError(c, params, "could not list invitations", err)
		return c.String(http.StatusInternalServerError, "Error")
	}

	fullName := params.Username + "/" + params.Repository
	for _, invitation := range invitations {
		if invitation.Repository.FullName != fullName {
			continue
		}
		if err := client.AcceptInvitation(ctx, invitation.ID); err != nil {
			h.logError(c, params, "could not accept invitation", err)
			return c.String(http.StatusInternalServerError, "Error")
		}
		return c.String(http.StatusOK, "OK!")
	}

	return c.String(http.StatusNotFound, "Invitation not found")
}

func (h *Handler) handleWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	if h.webhookSecret != "" && !verifySignature(body, c.Request().Header.Get("X-Hub-Signature-256"), h.webhookSecret) {
		return c.NoContent(http.StatusForbidden)
	}

	if c.Request().Header.Get("X-GitHub-Event") != "pull_request" {
		return c.JSON(http.StatusOK, echo.Map{"success": true})
	}

	deliveryID := c.Request().Header.Get("X-GitHub-Delivery")
	if h.dedupe.Seen(c.Request().Context(), deliveryID) {
		return c.JSON(http.StatusOK, echo.Map{"success": true})
	}

	var event usecase.PullRequestEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	if err := h.webhooks.HandlePullRequest(c.Request().Context(), event); err != nil {
		// The redelivery must not be skipped: branch cleanup and the
		// deferred notification would be lost for good.
		h.dedupe.Forget(c.Request().Context(), deliveryID)
		slog.Error("could not handle pull request event",
			slog.String("error", err.Error()),
			slog.String("module", "rest"),
		)
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false})
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

func (h *Handler) logError(c echo.Context, params domain.Parameters, message string, err error) {
	slog.Error(message,
		slog.String("error", err.Error()),
		slog.String("account", params.Username),
		slog.String("repository", params.Repository),
		slog.String("path", c.Path()),
		slog.String("module", "rest"),
	)
}

// verifySignature checks the webhook HMAC, constant time.
func verifySignature(body []byte, header, secret string) bool {
	signature, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

var bracketKey = regexp.MustCompile(`^(fields|options)\[([^\]]+)\](?:\[([^\]]+)\])?$`)

type submissionBody struct {
	Fields  map[string]any `json:"fields"`
	Options map[string]any `json:"options"`
}

// parseSubmission accepts a JSON body with fields/options objects or a
// classic form post using bracketed keys (fields[name]=…, one nesting level
// for payloads like options[reCaptcha][siteKey]). Bracketed keys in the
// query string are read too, for either body kind.
func parseSubmission(c echo.Context) (domain.Fields, domain.Options, error) {
	fields := domain.Fields{}
	options := domain.Options{}
	collectBracketed(c.QueryParams(), fields, options)

	contentType := c.Request().Header.Get(echo.HeaderContentType)
	if strings.HasPrefix(contentType, echo.MIMEApplicationJSON) {
		var body submissionBody
		if err := c.Bind(&body); err != nil {
			return nil, nil, domain.NewError(domain.CodeInvalidFields, "could not parse request body")
		}
		for key, value := range body.Fields {
			fields[key] = value
		}
		for key, value := range body.Options {
			options[key] = value
		}
		return fields, options, nil
	}

	values, err := c.FormParams()
	if err != nil {
		return nil, nil, domain.NewError(domain.CodeInvalidFields, "could not parse request body")
	}
	collectBracketed(values, fields, options)

	return fields, options, nil
}

func collectBracketed(values url.Values, fields domain.Fields, options domain.Options) {
	for key, value := range values {
		match := bracketKey.FindStringSubmatch(key)
		if match == nil || len(value) == 0 {
			continue
		}

		var target map[string]any
		switch match[1] {
		case "fields":
			target = fields
		case "options":
			target = options
		}

		if match[3] == "" {
			target[match[2]] = value[0]
			continue
		}

		nested, ok := target[match[2]].(map[string]any)
		if !ok {
			nested = map[string]any{}
			target[match[2]] = nested
		}
		nested[match[3]] = value[0]
	}
}
