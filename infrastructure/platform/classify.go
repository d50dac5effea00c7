package platform

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"social-publisher/domain/model"
)

// ClassifyStatus maps a platform HTTP status onto the publish error taxonomy. It returns nil for 2xx.
func ClassifyStatus(stage string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := fmt.Sprintf("http %d: %s", status, truncate(strings.TrimSpace(string(body)), 300))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return model.AuthRejected(stage, msg)
	case status == http.StatusTooManyRequests:
		return model.QuotaExceeded(stage, msg)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity ||
		status == http.StatusRequestEntityTooLarge || status == http.StatusUnsupportedMediaType:
		return model.ValidationRejected(stage, msg)
	case status == http.StatusRequestTimeout || status >= 500:
		return model.Transient(stage, errors.New(msg))
	}
	return model.ValidationRejected(stage, msg)
}

// ClassifyTransport wraps a failed round trip. Network errors and timeouts are transient.
func ClassifyTransport(stage string, err error) error {
	if err == nil {
		return nil
	}
	var pe *model.PublishError
	if errors.As(err, &pe) {
		return err
	}
	// Anything that failed before a response arrived (dial, reset, deadline) is retryable.
	return model.Transient(stage, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
