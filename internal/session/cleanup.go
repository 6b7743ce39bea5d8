package session

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// StartCleanup schedules pruner on spec until ctx is cancelled.
func StartCleanup(ctx context.Context, spec string, pruner Pruner) (*cron.Cron, error) {
	c := cron.New()

	_, err := c.AddFunc(spec, func() {
		removed, err := pruner.PruneExpired(ctx)
		if err != nil {
			log.Printf("[session] failed to prune expired sessions: %v", err)
			return
		}
		if removed > 0 {
			log.Printf("[session] pruned %d expired sessions", removed)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid session cleanup schedule %q: %w", spec, err)
	}

	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		log.Println("[session] cleanup scheduler stopped")
	}()

	return c, nil
}
