package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// runScript asks the backend for a full drama script on the topic.
func (o *Orchestrator) runScript(ctx context.Context, topic string) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = o.store.GetString("script.topic", "")
	}
	if topic == "" {
		return fmt.Errorf("no topic given — pass one or run the topics command first")
	}

	log.Printf("[script] generating script for %q...", topic)

	resp, err := o.api.Post(ctx, o.tool, "generate-script", map[string]any{
		"topic":       topic,
		"style":       o.cfg.Pipeline.Style,
		"provider":    o.cfg.Pipeline.Provider,
		"durationMin": o.cfg.Pipeline.DurationMin,
	})
	if err != nil {
		return err
	}

	text := firstString(resp, "script", "script_text", "text", "content")
	if text == "" {
		return fmt.Errorf("backend returned no script text")
	}

	o.store.Set("script.topic", topic)
	o.store.Set("script.result", resp)
	o.store.Set("script.text", text)
	o.store.Set("script.title", firstString(resp, "title"))
	o.store.AddCost(StepScript, firstFloat(resp, "costUsd", "cost_usd", "cost"))

	log.Printf("[script] ✅ script ready: %d chars", len(text))
	return nil
}
