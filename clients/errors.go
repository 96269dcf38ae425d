package clients

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/vitwit/cryptopay/types"
)

// Default messages used when an error response carries no usable body.
const (
	defaultNotFoundMessage   = "resource not found"
	defaultValidationMessage = "request validation failed"
)

// apiErrorBody is the error envelope returned by the payment API.
type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func parseErrorBody(body []byte) apiErrorBody {
	var parsed apiErrorBody
	if len(body) == 0 {
		return parsed
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return apiErrorBody{}
	}
	if parsed.Message == "" {
		parsed.Message = parsed.Error
	}
	return parsed
}

// classifyTransportError maps a failure where no response was received.
func classifyTransportError(err error) *types.Error {
	return types.NewNetworkError(err)
}

// classifyResponse maps a non-2xx response onto the error taxonomy. The
// order of the checks matters: authentication, rate limit, not found,
// validation, then the catch-all service error.
func classifyResponse(statusCode int, header http.Header, body []byte) *types.Error {
	parsed := parseErrorBody(body)

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return types.NewAuthenticationError(statusCode, parsed.Message)

	case statusCode == http.StatusTooManyRequests:
		return types.NewRateLimitError(parseRetryAfter(header.Get("Retry-After")))

	case statusCode == http.StatusNotFound:
		e := types.NewNotFoundError(orDefault(parsed.Message, defaultNotFoundMessage))
		e.StatusCode = statusCode
		return e

	case statusCode == http.StatusBadRequest:
		e := types.NewValidationError(orDefault(parsed.Message, defaultValidationMessage))
		e.StatusCode = statusCode
		return e

	default:
		return types.NewServiceError(statusCode, parsed.Code, parsed.Message)
	}
}

// parseRetryAfter reads a Retry-After value in seconds.
func parseRetryAfter(value string) int {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds < 0 {
		return types.DefaultRetryAfterSeconds
	}
	return seconds
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
