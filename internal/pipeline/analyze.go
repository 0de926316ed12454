package pipeline

import (
	"context"
	"fmt"
	"log"

	"drama-lab-pipeline/internal/types"
)

// runAnalyze splits the generated script into scenes with moods and image
// prompts. Scene fields arrive under provider-specific names and are
// normalized here before they hit the session.
func (o *Orchestrator) runAnalyze(ctx context.Context) error {
	text := o.store.GetString("script.text", "")
	if text == "" {
		return fmt.Errorf("no script to analyze — run the script step first")
	}

	log.Println("[analyze] analyzing script into scenes...")

	resp, err := o.api.Post(ctx, o.tool, "analyze-script", map[string]any{
		"script": text,
		"ratio":  o.cfg.Pipeline.Ratio,
	})
	if err != nil {
		return err
	}

	rawScenes := firstSlice(resp, "scenes", "scene_list")
	if len(rawScenes) == 0 {
		return fmt.Errorf("backend returned no scenes")
	}

	scenes := make([]any, 0, len(rawScenes))
	for i, raw := range rawScenes {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		scenes = append(scenes, map[string]any{
			"index":       i,
			"narration":   firstString(m, "narration", "scene_narration", "text"),
			"mood":        firstString(m, "mood"),
			"imagePrompt": firstString(m, "image_prompt", "imagePrompt", "prompt"),
			"durationSec": firstFloat(m, "duration_sec", "durationSec", "duration"),
		})
	}
	if len(scenes) == 0 {
		return fmt.Errorf("no usable scenes in backend response")
	}

	o.store.Set("analyze.result", resp)
	o.store.Set("analyze.scenes", scenes)
	o.store.AddCost(StepAnalyze, firstFloat(resp, "costUsd", "cost_usd", "cost"))

	log.Printf("[analyze] ✅ %d scenes", len(scenes))
	return nil
}

// scenes reads the normalized scene list back out of the session, so every
// later step survives a restart.
func (o *Orchestrator) scenes() []types.Scene {
	raw, ok := o.store.Get("analyze.scenes", nil).([]any)
	if !ok {
		return nil
	}
	out := make([]types.Scene, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, types.Scene{
			Index:       i,
			Narration:   firstString(m, "narration"),
			Mood:        firstString(m, "mood"),
			ImagePrompt: firstString(m, "imagePrompt"),
			DurationSec: firstFloat(m, "durationSec"),
		})
	}
	return out
}
