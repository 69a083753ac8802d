// Package presenter shapes the caller-visible API payloads. Error payloads
// carry a stable errorCode and caller-safe data only; upstream internals
// never pass through here.
package presenter

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tadmccorkle/static-comments-with-firebase/internal/domain"
)

type successResponse struct {
	Success bool          `json:"success"`
	Fields  domain.Fields `json:"fields,omitempty"`
}

type failureResponse struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	Data      []string `json:"data,omitempty"`
	ErrorCode string   `json:"errorCode"`
}

// Success responds with the processed fields, or redirects when the
// submitter asked for one.
func Success(c echo.Context, fields domain.Fields, redirect string) error {
	if redirect != "" {
		return c.Redirect(http.StatusSeeOther, redirect)
	}
	return c.JSON(http.StatusOK, successResponse{Success: true, Fields: fields})
}

// Failure responds with the typed error, or redirects to the submitter's
// error page when one was supplied.
func Failure(c echo.Context, err error, redirectError string) error {
	if redirectError != "" {
		return c.Redirect(http.StatusSeeOther, redirectError)
	}

	payload := failureResponse{
		Message:   "could not process request",
		ErrorCode: string(domain.CodeUpstreamFailure),
	}

	// Anything untyped keeps the generic message; internals stay out of
	// the payload.
	var typed *domain.Error
	var upstream *domain.UpstreamError
	switch {
	case errors.As(err, &typed):
		payload.Message = typed.Message
		payload.Data = typed.Data
		payload.ErrorCode = string(typed.Code)
	case errors.As(err, &upstream):
		payload.Message = upstream.Error()
	}

	return c.JSON(http.StatusInternalServerError, payload)
}
