package app

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	sessiondomain "github.com/sipeed/agentc/pkg/domain/session"
	"github.com/sipeed/agentc/pkg/logger"
)

// Autosaver periodically writes every session to a repository on a cron
// schedule.
type Autosaver struct {
	registry *SessionRegistry
	repo     sessiondomain.Repository
	expr     string
	now      func() time.Time
}

// NewAutosaver validates expr (standard five-field cron syntax, or a macro
// such as "@hourly") and returns an autosaver that is not yet running.
func NewAutosaver(registry *SessionRegistry, repo sessiondomain.Repository, expr string) (*Autosaver, error) {
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid autosave schedule %q", expr)
	}
	return &Autosaver{
		registry: registry,
		repo:     repo,
		expr:     expr,
		now:      time.Now,
	}, nil
}

// Next returns the first scheduled save strictly after t.
func (a *Autosaver) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(a.expr, t, false)
}

// Run saves on every tick until ctx is cancelled, then performs a final
// save. Save failures are logged and do not stop the loop.
func (a *Autosaver) Run(ctx context.Context) error {
	logger.InfoCF("autosave", "Autosave started", map[string]interface{}{
		"schedule": a.expr,
	})
	for {
		next, err := a.Next(a.now())
		if err != nil {
			return fmt.Errorf("compute next autosave: %w", err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			a.SaveNow()
			logger.InfoC("autosave", "Autosave stopped")
			return nil
		case <-timer.C:
			a.SaveNow()
		}
	}
}

// SaveNow writes every session immediately.
func (a *Autosaver) SaveNow() {
	if err := a.registry.SaveTo(a.repo); err != nil {
		logger.ErrorCF("autosave", "Autosave failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	logger.DebugCF("autosave", "Sessions autosaved", map[string]interface{}{
		"count": a.registry.SessionCount(),
	})
}
