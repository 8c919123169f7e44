package ledger

import (
	"errors"
	"net/http"

	"github.com/mocoin/domain/internal/domain"
)

// Classify maps a ledger failure into the domain error taxonomy. It is
// applied once, at the gateway boundary; everything downstream sees only
// *domain.Error values. Unreachable ledgers and unrecognized statuses both
// classify as ServiceUnavailable.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		return domain.NewServiceUnavailableError(err.Error())
	}

	switch reqErr.StatusCode {
	case http.StatusBadRequest:
		return domain.NewArgumentError("ledger", reqErr.Message)
	case http.StatusUnauthorized:
		return domain.NewUnauthorizedError(reqErr.Message)
	case http.StatusForbidden:
		return domain.NewForbiddenError(reqErr.Message)
	case http.StatusNotFound:
		return domain.NewNotFoundError(reqErr.Message)
	case http.StatusTooManyRequests:
		return domain.NewRateLimitExceededError(reqErr.Message)
	default:
		return domain.NewServiceUnavailableError(reqErr.Message)
	}
}
