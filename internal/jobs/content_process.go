package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/marketpulse/pulse/internal/content"
	"github.com/marketpulse/pulse/internal/llm"
	"github.com/marketpulse/pulse/internal/queue"
	"github.com/marketpulse/pulse/internal/utils"
)

// ProcessContent summarizes one content item and then runs the analysis trigger.
// Items that were already processed skip straight to the trigger.
func (h *Handlers) ProcessContent(ctx context.Context, job *queue.Job, p queue.ContentProcessPayload) error {
	item, err := h.Content.Get(ctx, p.ContentID)
	if errors.Is(err, content.ErrNotFound) {
		return queue.Permanent(err)
	}
	if err != nil {
		return err
	}

	if item.Status != content.StatusProcessed {
		var prompt strings.Builder
		fmt.Fprintf(&prompt, "Source: %s (%s)\nTitle: %s\n", item.Source, item.SourceType, item.Title)
		if item.PublishedAt != nil {
			fmt.Fprintf(&prompt, "Published: %s\n", item.PublishedAt.Format("2006-01-02 15:04"))
		}
		prompt.WriteString("\n")
		prompt.WriteString(utils.Truncate(item.Body, maxContentChars))

		summary, err := h.complete(ctx, llm.Request{System: summarizeSystem, Prompt: prompt.String()})
		if err != nil {
			return fmt.Errorf("failed to summarize content %s: %w", item.ID, err)
		}

		if err := h.Content.MarkProcessed(ctx, item.ID, strings.TrimSpace(summary), h.Now()); err != nil {
			return err
		}
		h.log.Info().Str("content_id", item.ID).Str("source", item.Source).Msg("Content processed")
	}

	decision, err := h.Trigger.Evaluate(ctx)
	if err != nil {
		return fmt.Errorf("analysis trigger failed: %w", err)
	}
	if decision.Triggered {
		h.log.Info().
			Str("content_id", item.ID).
			Str("date", decision.Date).
			Str("reason", string(decision.Reason)).
			Msg("Content triggered daily analysis")
	}
	return nil
}
