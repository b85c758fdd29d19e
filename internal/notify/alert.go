package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/deusflow/sportswire/internal/budget"
	"github.com/deusflow/sportswire/internal/retry"
)

// Alerter turns budget alerts and retry escalations into messages on the
// alert channel.
type Alerter struct {
	n Notifier
}

func NewAlerter(n Notifier) *Alerter {
	if n == nil {
		n = Noop{}
	}
	return &Alerter{n: n}
}

func (a *Alerter) BudgetAlert(ctx context.Context, al budget.Alert) error {
	level := LevelWarning
	if al.Level == budget.LevelCritical {
		level = LevelCritical
	}
	return a.n.Send(ctx, Message{
		Title: fmt.Sprintf("Budget %s: %s", al.Level, al.Period),
		Body:  al.Message,
		Level: level,
		Fields: map[string]string{
			"period":     string(al.Period),
			"spent":      strconv.FormatFloat(al.Spent, 'f', 2, 64),
			"limit":      strconv.FormatFloat(al.Limit, 'f', 2, 64),
			"percentage": strconv.FormatFloat(al.Percentage, 'f', 1, 64),
		},
	})
}

func (a *Alerter) Escalate(ctx context.Context, e retry.Escalation) error {
	level := LevelWarning
	if e.Record.Severity == retry.SeverityCritical || e.Record.Severity == retry.SeverityHigh {
		level = LevelCritical
	}
	return a.n.Send(ctx, Message{
		Title: fmt.Sprintf("Operation %s failed permanently", e.Task.Op.Kind()),
		Body:  fmt.Sprintf("Gave up after %d attempt(s): %s", e.Task.AttemptCount, e.Record.Message),
		Level: level,
		Fields: map[string]string{
			"task_id":  e.Task.ID,
			"severity": string(e.Record.Severity),
			"attempts": strconv.Itoa(e.Task.AttemptCount),
		},
	})
}
