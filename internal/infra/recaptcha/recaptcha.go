// Package recaptcha implements the human-verification capability against
// Google's siteverify endpoint.
package recaptcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tadmccorkle/static-comments-with-firebase/internal/domain"
)

const defaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

type Verifier struct {
	verifyURL string
	client    *http.Client
}

// New builds a verifier. verifyURL is overridable for tests; empty means
// the public endpoint.
func New(verifyURL string) *Verifier {
	if verifyURL == "" {
		verifyURL = defaultVerifyURL
	}
	return &Verifier{
		verifyURL: verifyURL,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (v *Verifier) Verify(ctx context.Context, secret, response, remoteIP string) (bool, error) {
	form := url.Values{}
	form.Set("secret", secret)
	form.Set("response", response)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, &domain.UpstreamError{Op: "recaptcha.verify", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := v.client.Do(req)
	if err != nil {
		return false, &domain.UpstreamError{Op: "recaptcha.verify", Err: err}
	}
	defer res.Body.Close()

	var payload struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return false, &domain.UpstreamError{Op: "recaptcha.verify", StatusCode: res.StatusCode, Err: err}
	}
	return payload.Success, nil
}
