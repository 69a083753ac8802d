package rest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tadmccorkle/static-comments-with-firebase/internal/config"
	"github.com/tadmccorkle/static-comments-with-firebase/internal/domain"
	"github.com/tadmccorkle/static-comments-with-firebase/internal/infra/github"
	"github.com/tadmccorkle/static-comments-with-firebase/internal/service"
	"github.com/tadmccorkle/static-comments-with-firebase/internal/usecase"
)

const siteDocument = `
comments:
  allowedFields:
    - name
    - message
  requiredFields:
    - message
  branch: main
  format: yml
  path: _data/comments
  moderation: false
`

// stubHost serves the site config and records committed entries.
type stubHost struct {
	document  string
	commits   []string
	review    domain.Review
	reviewErr error
	deleted   []string
}

func (s *stubHost) ReadFile(_ context.Context, path, _ string) ([]byte, error) {
	if path == "_comment-bot.yml" {
		if s.document != "" {
			return []byte(s.document), nil
		}
		return []byte(siteDocument), nil
	}
	return nil, &domain.UpstreamError{Op: "ReadFile", StatusCode: 404}
}

func (s *stubHost) GetBranchHead(_ context.Context, _ string) (string, error) { return "sha", nil }
func (s *stubHost) CreateBranch(_ context.Context, _, _ string) error         { return nil }

func (s *stubHost) DeleteBranch(_ context.Context, name string) error {
	s.deleted = append(s.deleted, name)
	return nil
}

func (s *stubHost) CommitFile(_ context.Context, path string, _ []byte, _, _ string) error {
	s.commits = append(s.commits, path)
	return nil
}

func (s *stubHost) CreateReview(_ context.Context, _, _, _, _ string) (int, error) { return 1, nil }

func (s *stubHost) GetReview(_ context.Context, _ int) (domain.Review, error) {
	return s.review, s.reviewErr
}

type stubMail struct{}

func (stubMail) Domain() string                                     { return "lists.example.com" }
func (stubMail) Send(_ context.Context, _, _, _, _ string) error    { return nil }
func (stubMail) ListInfo(_ context.Context, _ string) error         { return nil }
func (stubMail) CreateList(_ context.Context, _ string) error       { return nil }
func (stubMail) AddListMember(_ context.Context, _, _ string) error { return nil }

type stubCaptcha struct{}

func (stubCaptcha) Verify(_ context.Context, _, _, _ string) (bool, error) { return true, nil }

type stubEncrypter struct{}

func (stubEncrypter) Encrypt(plaintext string) (string, error) { return "enc-" + plaintext, nil }

// fakeDeliveryLog records dedupe traffic.
type fakeDeliveryLog struct {
	seen      []string
	forgotten []string
}

func (f *fakeDeliveryLog) Seen(_ context.Context, deliveryID string) bool {
	f.seen = append(f.seen, deliveryID)
	return false
}

func (f *fakeDeliveryLog) Forget(_ context.Context, deliveryID string) {
	f.forgotten = append(f.forgotten, deliveryID)
}

func newTestHandler(host *stubHost, webhookSecret string) (*Handler, *echo.Echo) {
	return newTestHandlerWithDedupe(host, webhookSecret, service.NewDedupeService(nil))
}

func newTestHandlerWithDedupe(host *stubHost, webhookSecret string, dedupe DeliveryLog) (*Handler, *echo.Echo) {
	hosts := usecase.RepoHostFactoryFunc(func(domain.Parameters) usecase.RepoHost { return host })
	mail := usecase.MailProviderFactoryFunc(func(string, string) usecase.MailProvider { return stubMail{} })

	subs := usecase.NewSubscriptionUsecase(mail, usecase.MailDefaults{
		Domain:      "lists.example.com",
		FromAddress: "bot@example.com",
	}, "https://api.example.com", "pepper")

	entries := usecase.NewEntryUsecase(hosts, subs, stubCaptcha{}, func(s string) (string, error) { return s, nil })
	webhooks := usecase.NewWebhookUsecase(hosts, entries)

	handler := NewHandler(entries, webhooks, dedupe, github.NewFactory(config.GitHub{}), stubEncrypter{}, webhookSecret)

	e := echo.New()
	handler.RegisterRoutes(e)
	return handler, e
}

func TestHandleHome(t *testing.T) {
	_, e := newTestHandler(&stubHost{}, "")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Comment Bot")
}

func TestHandleEncrypt(t *testing.T) {
	_, e := newTestHandler(&stubHost{}, "")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/encrypt/hello", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "enc-hello", rec.Body.String())
}

func TestHandleEntryJSON(t *testing.T) {
	host := &stubHost{}
	_, e := newTestHandler(host, "")

	body := `{"fields":{"name":"Jane","message":"hello"},"options":{}}`
	req := httptest.NewRequest(http.MethodPost, "/entry/octocat/blog/main/comments", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var response struct {
		Success bool           `json:"success"`
		Fields  map[string]any `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.True(t, response.Success)
	assert.Equal(t, "Jane", response.Fields["name"])
	assert.NotEmpty(t, response.Fields["_id"])

	require.Len(t, host.commits, 1)
	assert.True(t, strings.HasPrefix(host.commits[0], "_data/comments/"))
}

func TestHandleEntryForm(t *testing.T) {
	host := &stubHost{}
	_, e := newTestHandler(host, "")

	form := url.Values{}
	form.Set("fields[name]", "Jane")
	form.Set("fields[message]", "hello")
	form.Set("options[redirect]", "https://example.com/thanks")

	req := httptest.NewRequest(http.MethodPost, "/entry/octocat/blog/main/comments", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	assert.Equal(t, "https://example.com/thanks", rec.Header().Get(echo.HeaderLocation))
	assert.Len(t, host.commits, 1)
}

func TestHandleEntryInvalidFields(t *testing.T) {
	_, e := newTestHandler(&stubHost{}, "")

	body := `{"fields":{"message":"hello","evil":"x"},"options":{}}`
	req := httptest.NewRequest(http.MethodPost, "/entry/octocat/blog/main/comments", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var response struct {
		Success   bool     `json:"success"`
		ErrorCode string   `json:"errorCode"`
		Data      []string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.False(t, response.Success)
	assert.Equal(t, string(domain.CodeInvalidFields), response.ErrorCode)
	assert.Equal(t, []string{"evil"}, response.Data)
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestHandleWebhookBadSignature(t *testing.T) {
	_, e := newTestHandler(&stubHost{}, "hook-secret")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	req.Header.Set("X-GitHub-Event", "pull_request")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleWebhookIgnoresOtherEvents(t *testing.T) {
	_, e := newTestHandler(&stubHost{}, "hook-secret")

	body := []byte(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("X-Hub-Signature-256", signBody("hook-secret", body))
	req.Header.Set("X-GitHub-Event", "ping")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleWebhookPullRequest(t *testing.T) {
	host := &stubHost{review: domain.Review{
		State:        domain.ReviewClosed,
		SourceBranch: domain.BranchPrefix + "uid-1",
	}}
	_, e := newTestHandler(host, "hook-secret")

	body := []byte(`{"action":"closed","number":7,"repository":{"name":"blog","owner":{"login":"octocat"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("X-Hub-Signature-256", signBody("hook-secret", body))
	req.Header.Set("X-GitHub-Event", "pull_request")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{domain.BranchPrefix + "uid-1"}, host.deleted)
}

func TestHandleWebhookWithoutSecretSkipsVerification(t *testing.T) {
	_, e := newTestHandler(&stubHost{}, "")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`))
	req.Header.Set("X-GitHub-Event", "ping")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleConfirm(t *testing.T) {
	_, e := newTestHandler(&stubHost{}, "")

	// Hash for jane@example.com with the test salt.
	subs := usecase.NewSubscriptionUsecase(
		usecase.MailProviderFactoryFunc(func(string, string) usecase.MailProvider { return stubMail{} }),
		usecase.MailDefaults{}, "", "pepper")
	hash := subs.EmailHash("jane@example.com")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/confirm/octocat/blog/main/comments/entry123/jane@example.com/"+hash, nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "confirmed")
}

func TestHandleEntryFormWithCaptcha(t *testing.T) {
	host := &stubHost{document: siteDocument + `  reCaptcha:
    enabled: true
    siteKey: site-key
    secret: shared-secret
`}
	_, e := newTestHandler(host, "")

	form := url.Values{}
	form.Set("fields[name]", "Jane")
	form.Set("fields[message]", "hello")
	form.Set("options[reCaptcha][siteKey]", "site-key")
	form.Set("options[reCaptcha][secret]", "shared-secret")
	form.Set("options[reCaptcha][response]", "token")

	req := httptest.NewRequest(http.MethodPost, "/entry/octocat/blog/main/comments", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, host.commits, 1)
}

func TestHandleWebhookFailureForgetsDelivery(t *testing.T) {
	host := &stubHost{reviewErr: &domain.UpstreamError{Op: "GetReview", StatusCode: 502}}
	dedupe := &fakeDeliveryLog{}
	_, e := newTestHandlerWithDedupe(host, "", dedupe)

	body := `{"action":"closed","number":7,"repository":{"name":"blog","owner":{"login":"octocat"}}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-GitHub-Event", "pull_request")
	req.Header.Set("X-GitHub-Delivery", "delivery-1")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, []string{"delivery-1"}, dedupe.seen)
	assert.Equal(t, []string{"delivery-1"}, dedupe.forgotten,
		"a failed delivery must be dropped so the redelivery is processed")
}

func TestHandleWebhookSuccessKeepsDelivery(t *testing.T) {
	host := &stubHost{review: domain.Review{
		State:        domain.ReviewClosed,
		SourceBranch: domain.BranchPrefix + "uid-1",
	}}
	dedupe := &fakeDeliveryLog{}
	_, e := newTestHandlerWithDedupe(host, "", dedupe)

	body := `{"action":"closed","number":7,"repository":{"name":"blog","owner":{"login":"octocat"}}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-GitHub-Event", "pull_request")
	req.Header.Set("X-GitHub-Delivery", "delivery-1")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, dedupe.forgotten)
}

func TestParseSubmissionBracketKeys(t *testing.T) {
	e := echo.New()
	form := url.Values{}
	form.Set("fields[name]", "Jane")
	form.Set("options[parent]", "entry-1")
	form.Set("unrelated", "ignored")

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	c := e.NewContext(req, httptest.NewRecorder())

	fields, options, err := parseSubmission(c)
	require.NoError(t, err)
	assert.Equal(t, domain.Fields{"name": "Jane"}, fields)
	assert.Equal(t, "entry-1", options.Parent())
}

func TestParseSubmissionNestedBracketKeys(t *testing.T) {
	e := echo.New()
	form := url.Values{}
	form.Set("options[reCaptcha][siteKey]", "site-key")
	form.Set("options[reCaptcha][secret]", "enc-secret")
	form.Set("options[reCaptcha][response]", "token")

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	c := e.NewContext(req, httptest.NewRecorder())

	_, options, err := parseSubmission(c)
	require.NoError(t, err)

	captcha := options.ReCaptcha()
	require.NotNil(t, captcha)
	assert.Equal(t, "site-key", captcha.SiteKey)
	assert.Equal(t, "enc-secret", captcha.Secret)
	assert.Equal(t, "token", captcha.Response)
}

func TestParseSubmissionQueryString(t *testing.T) {
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost,
		"/?fields[slug]=my-post&options[parent]=entry-1",
		strings.NewReader(`{"fields":{"message":"hello"},"options":{}}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	fields, options, err := parseSubmission(c)
	require.NoError(t, err)
	assert.Equal(t, "my-post", fields["slug"])
	assert.Equal(t, "hello", fields["message"])
	assert.Equal(t, "entry-1", options.Parent())
}
