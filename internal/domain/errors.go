package domain

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// Error taxonomy. Each sentinel wraps an errdefs class so transport layers can map
// it generically, while callers match the precise cause with errors.Is.
var (
	ErrNotFound       = fmt.Errorf("session not found: %w", errdefs.ErrNotFound)
	ErrExpired        = fmt.Errorf("session expired: %w", errdefs.ErrFailedPrecondition)
	ErrInvalidState   = fmt.Errorf("invalid session state: %w", errdefs.ErrFailedPrecondition)
	ErrInvalidContent = fmt.Errorf("invalid session content: %w", errdefs.ErrInvalidArgument)
	ErrTransport      = fmt.Errorf("transport failure: %w", errdefs.ErrUnavailable)
	ErrEvaluator      = fmt.Errorf("answer evaluator failure: %w", errdefs.ErrUnavailable)
	ErrNotification   = fmt.Errorf("notification failure: %w", errdefs.ErrUnavailable)
)
