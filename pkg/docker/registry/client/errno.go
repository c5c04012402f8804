package client

import (
	"github.com/pkg/errors"

	"github.com/shipengqi/registry-api/pkg/docker/registry/manifest"
)

type Errno struct {
	Code    int
	Message string
}

func (err *Errno) Error() string {
	return err.Message
}

var (
	// Common errors
	OK                = &Errno{Code: 200, Message: "OK"}
	BadRequestErr     = &Errno{Code: 400, Message: "Bad Request"}
	UnauthorizedErr   = &Errno{Code: 401, Message: "Unauthorized."}
	ForbiddenErr      = &Errno{Code: 403, Message: "Forbidden."}
	NotFoundErr       = &Errno{Code: 404, Message: "Not Found."}
	TooManyRequestErr = &Errno{Code: 429, Message: "Too Many Requests"}
	InternalServerErr = &Errno{Code: 500, Message: "Internal server error"}
)

var (
	// AuthURLUnavailableErr is returned on a 401 without a challenge header when no auth url is known yet.
	AuthURLUnavailableErr = &Errno{Code: 1001, Message: "no auth url available"}
	// MalformedChallengeHeaderErr is returned when the WWW-Authenticate header cannot be parsed.
	MalformedChallengeHeaderErr = &Errno{Code: 1002, Message: "malformed challenge header"}
	// TokenExchangeFailedErr is returned when the token endpoint answers with a non-2xx or an unusable body.
	TokenExchangeFailedErr = &Errno{Code: 1003, Message: "token exchange failed"}
	// RegistryResponseInvalidErr is returned when the registry answers with an unexpected status or body.
	RegistryResponseInvalidErr = &Errno{Code: 1004, Message: "invalid response from registry"}
	// TimeoutErr is returned when a request timed out twice in a row.
	TimeoutErr = &Errno{Code: 1005, Message: "request timed out"}
)

// Manifest codec errors, re-exported so callers only need this package.
var (
	ManifestParseFailedErr      = manifest.ErrParseFailed
	UnsupportedSchemaVersionErr = manifest.ErrUnsupportedSchemaVersion
)

// handleResponseStatus classifies a registry response status.
func handleResponseStatus(res *Response) *Errno {
	if res == nil {
		return InternalServerErr
	}
	switch res.StatusCode {
	case BadRequestErr.Code:
		return BadRequestErr
	case UnauthorizedErr.Code:
		return UnauthorizedErr
	case ForbiddenErr.Code:
		return ForbiddenErr
	case NotFoundErr.Code:
		return NotFoundErr
	case TooManyRequestErr.Code:
		return TooManyRequestErr
	}
	if res.StatusCode >= InternalServerErr.Code {
		return InternalServerErr
	}
	return OK
}

// invalidResponse wraps RegistryResponseInvalidErr with the status of res.
func invalidResponse(res *Response, what string) error {
	status := handleResponseStatus(res)
	code := 0
	if res != nil {
		code = res.StatusCode
	}
	return errors.Wrapf(RegistryResponseInvalidErr, "%s: status %d (%s)", what, code, status.Message)
}
