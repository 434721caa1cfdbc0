package main

import (
	"context"

	"github.com/medops/ruleflow/internal/logger"
	"github.com/medops/ruleflow/rules"
)

// loggingCollaborators returns collaborator implementations that record each
// call through the logger. The dashboard deployment swaps these for its real
// database writer, notification hub and AI client.
func loggingCollaborators() rules.Collaborators {
	return rules.Collaborators{
		Data:     &loggingDataStore{},
		Notifier: &loggingNotifier{},
		AI:       &loggingAI{},
	}
}

type loggingDataStore struct{}

func (d *loggingDataStore) Write(ctx context.Context, entity string, op rules.DataOperation, payload map[string]any) error {
	lg := logger.WithComponent("datastore")
	lg.Info().
		Str("entity", entity).
		Str("op", string(op)).
		Interface("payload", payload).
		Msg("data write")
	return nil
}

type loggingNotifier struct{}

func (n *loggingNotifier) Push(ctx context.Context, channels []string, message string) error {
	lg := logger.WithComponent("notifier")
	lg.Info().
		Strs("channels", channels).
		Str("message", message).
		Msg("notification pushed")
	return nil
}

func (n *loggingNotifier) SendTemplate(ctx context.Context, template, recipient string, vars map[string]any) error {
	lg := logger.WithComponent("notifier")
	lg.Info().
		Str("template", template).
		Str("recipient", recipient).
		Msg("email sent")
	return nil
}

type loggingAI struct{}

func (a *loggingAI) Analyze(ctx context.Context, payload map[string]any) (map[string]any, error) {
	lg := logger.WithComponent("ai")
	lg.Info().
		Interface("payload", payload).
		Msg("analysis requested")
	return map[string]any{"summary": "analysis unavailable in standalone mode"}, nil
}
