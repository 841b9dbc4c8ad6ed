package idp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tenantgate/pkg/apierr"
)

// DefaultHTTPTimeout bounds every identity provider round trip
const DefaultHTTPTimeout = 10 * time.Second

// NewHTTPClient returns a traced client with a bounded timeout
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// transportError classifies an error that occurred before any response was
// received.
func transportError(op string, err error) error {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		return err
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apierr.IdpUnavailable(fmt.Sprintf("identity provider timed out during %s", op), err)
	}
	return apierr.IdpUnavailable(fmt.Sprintf("identity provider unreachable during %s", op), err)
}
