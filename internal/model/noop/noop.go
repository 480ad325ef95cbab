// Package noop provides a model.Client stand-in used when no model API key
// is configured, per §6's graceful-degradation rule ("absent [key] ⇒ Memory
// and Model features degrade gracefully to no-op / empty-result"). Every
// call fails with ErrNoAPIKey so callers follow their already-specified
// failure paths (classifier failure caught and logged by the Observer;
// the Coaching Pipeline surfaces planning:error; a Review Agent run returns
// the error to its caller, with no unstructured fallback result) instead of
// the process crashing at construction time for lack of a key.
package noop

import (
	"context"
	"errors"

	"github.com/aaronbassett/paige/internal/model"
)

// ErrNoAPIKey is returned by every Complete call.
var ErrNoAPIKey = errors.New("model: no API key configured")

// Client implements model.Client, rejecting every call.
type Client struct{}

// Complete always fails with ErrNoAPIKey.
func (Client) Complete(context.Context, *model.Request) (*model.Response, error) {
	return nil, ErrNoAPIKey
}
