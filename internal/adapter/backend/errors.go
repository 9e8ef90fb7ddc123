package backend

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/smithy-go"

	"quickchat/internal/domain"
)

// mapAWSError classifies an AWS SDK error. The detail carries the AWS error
// code and message so clients can show it.
func mapAWSError(service, op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return domain.NewSubSystemError(service, op, domain.WithCause(domain.ErrProviderError, err), "")
	}

	code := apiErr.ErrorCode()
	detail := fmt.Sprintf("AWS Error (%s): %s", code, apiErr.ErrorMessage())
	kind := domain.ErrProviderError
	switch code {
	case "AccessDeniedException", "AccessDenied", "UnrecognizedClientException",
		"ExpiredTokenException", "UnauthorizedException":
		kind = domain.ErrAuthInvalid
	case "ThrottlingException", "TooManyRequestsException", "LimitExceededException":
		kind = domain.ErrRateLimit
	}
	return domain.NewSubSystemError(service, op, domain.WithCause(kind, err), detail)
}

// errorStatus maps a backend error to the HTTP status and detail returned to
// the client.
func errorStatus(err error) (int, string) {
	detail := err.Error()
	var de *domain.DomainError
	if errors.As(err, &de) && de.Detail != "" {
		detail = de.Detail
	}
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, detail
	case errors.Is(err, domain.ErrAuthInvalid):
		return http.StatusForbidden, detail
	case errors.Is(err, domain.ErrCircuitOpen):
		return http.StatusServiceUnavailable, detail
	}
	return http.StatusInternalServerError, detail
}
