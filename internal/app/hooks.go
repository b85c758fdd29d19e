package app

import (
	"context"
	"strconv"

	"github.com/deusflow/sportswire/internal/notify"
	"github.com/deusflow/sportswire/internal/workflow"
)

// webhookHook tells an external scheduler about pause and resume.
type webhookHook struct {
	pause  notify.Notifier
	resume notify.Notifier
}

func (h webhookHook) Paused(ctx context.Context, s workflow.State) error {
	if h.pause == nil {
		return nil
	}
	reason := ""
	if s.PauseReason != nil {
		reason = *s.PauseReason
	}
	return h.pause.Send(ctx, notify.Message{
		Title: "Workflow paused",
		Body:  reason,
		Level: notify.LevelCritical,
		Fields: map[string]string{
			"event":       "paused",
			"pause_count": strconv.Itoa(s.PauseCount),
		},
	})
}

func (h webhookHook) Resumed(ctx context.Context, s workflow.State) error {
	if h.resume == nil {
		return nil
	}
	return h.resume.Send(ctx, notify.Message{
		Title: "Workflow resumed",
		Level: notify.LevelInfo,
		Fields: map[string]string{
			"event":        "resumed",
			"resume_count": strconv.Itoa(s.ResumeCount),
		},
	})
}
