package session

import (
	"context"

	"github.com/coralrun/coral/internal/coralspec"
)

// Wait blocks for handle's terminal state and releases backend-side
// resources unless the session is detached, per spec.md §4.5.
func (s *Session) Wait(ctx context.Context, handle coralspec.RunHandle) (coralspec.RunResult, error) {
	result, err := s.backend.Wait(ctx, handle)
	if err != nil {
		return coralspec.RunResult{}, err
	}
	if !s.opts.Detached {
		if cleanupErr := s.backend.Cleanup(ctx, handle, false); cleanupErr != nil {
			s.log.WithError(cleanupErr).Warn("cleanup after run failed")
		}
	}
	s.emit("Completed", handle)
	return result, nil
}

// Cancel asks the backend to stop an in-flight call.
func (s *Session) Cancel(ctx context.Context, handle coralspec.RunHandle) error {
	return s.backend.Cancel(ctx, handle)
}

// Stream tails a run's log lines, for backends that implement it.
func (s *Session) Stream(ctx context.Context, handle coralspec.RunHandle) (<-chan string, error) {
	return s.backend.Stream(ctx, handle)
}
