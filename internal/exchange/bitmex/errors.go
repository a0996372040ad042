package bitmex

import (
	"errors"
	"fmt"
	"strings"

	"futures-engine/internal/core"
)

// APIError is the venue's structured error body. It is always kept in the
// chain so callers can still see the raw name/message after classification.
type APIError struct {
	Status  int
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("bitmex api error %d %s: %s", e.Status, e.Name, e.Message)
}

var apiErrorMessageKinds = map[string]error{
	"insufficient available balance": core.ErrInsufficientBalance,
	"duplicate clordid":              core.ErrDuplicateOrder,
	"not found":                      core.ErrOrderNotFound,
	"invalid ordstatus":              core.ErrOrderNotFound,
	"invalid orderid":                core.ErrOrderNotFound,
}

func classifyAPIError(apiErr APIError) error {
	kind := classifyAPIErrorKind(apiErr)
	if kind == nil {
		return apiErr
	}
	return errors.Join(apiErr, kind)
}

func classifyAPIErrorKind(apiErr APIError) error {
	msg := strings.ToLower(apiErr.Message)
	for needle, kind := range apiErrorMessageKinds {
		if strings.Contains(msg, needle) {
			return kind
		}
	}
	if apiErr.Status == 400 && strings.Contains(strings.ToLower(apiErr.Name), "order") {
		return core.ErrOrderRejected
	}
	return nil
}

func AsAPIError(err error) (APIError, bool) {
	var apiErr APIError
	if err == nil || !errors.As(err, &apiErr) {
		return APIError{}, false
	}
	return apiErr, true
}
