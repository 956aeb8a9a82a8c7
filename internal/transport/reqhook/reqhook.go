// Package reqhook defines the onRequest gate shared by the HTTP and
// WebSocket transports — spec §6: the same hook is consulted for every
// database-route and WS-upgrade request, never for health checks.
package reqhook

import (
	"context"
	"net/http"

	"github.com/assetcorp/sirannon/internal/sirannonerr"
)

// Denial short-circuits a gated request with an explicit status/code/message.
type Denial struct {
	Status  int
	Code    string
	Message string
}

// Hook is consulted before a database-route request or WS upgrade is
// allowed through. A non-nil error is reported as 500 HOOK_ERROR; a
// non-nil Denial short-circuits with its own status/code/message.
type Hook func(ctx context.Context, r *http.Request) (*Denial, error)

// Call invokes hook if non-nil, isolating panics as a HOOK_ERROR the same
// way the rest of the hook system does.
func Call(hook Hook, r *http.Request) (denial *Denial, err error) {
	if hook == nil {
		return nil, nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = sirannonerr.New(sirannonerr.CodeHookError, "onRequest hook panicked")
		}
	}()
	return hook(r.Context(), r)
}
