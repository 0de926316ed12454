package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"

	"drama-lab-pipeline/internal/batch"
	"drama-lab-pipeline/internal/types"
)

// moodStyles augment a scene's base image prompt, per the drama look the
// image providers respond best to.
var moodStyles = map[string]string{
	"tense":  "cinematic noir lighting, dark shadows, dramatic contrast, 4K photorealistic",
	"reveal": "dramatic spotlight, high contrast, moody atmosphere, cinematic close-up",
	"eerie":  "dark foggy atmosphere, eerie lighting, desaturated colors, photorealistic",
	"action": "dynamic composition, dramatic lighting, motion blur, cinematic",
	"sad":    "melancholic lighting, soft shadows, muted tones, emotionally heavy",
	"hook":   "extreme dramatic lighting, high contrast, cinematic masterpiece",
}

// runMedia fans out image generation and narration TTS over the scene list,
// both groups in parallel. Each group runs in fixed-size batches with a pause
// between batches to stay under provider rate limits.
func (o *Orchestrator) runMedia(ctx context.Context) error {
	scenes := o.scenes()
	if len(scenes) == 0 {
		return fmt.Errorf("no scenes — run the analyze step first")
	}

	var wg sync.WaitGroup
	var imgErr, ttsErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		imgErr = o.generateImages(ctx, scenes)
	}()
	go func() {
		defer wg.Done()
		ttsErr = o.generateNarration(ctx, scenes)
	}()
	wg.Wait()

	if imgErr != nil {
		return fmt.Errorf("images: %w", imgErr)
	}
	if ttsErr != nil {
		return fmt.Errorf("narration: %w", ttsErr)
	}
	return nil
}

func (o *Orchestrator) generateImages(ctx context.Context, scenes []types.Scene) error {
	log.Printf("[images] generating %d scene images (batches of %d)...", len(scenes), o.cfg.Images.BatchSize)

	errs := batch.Run(ctx, len(scenes), o.cfg.Images.BatchSize, o.cfg.BatchDelay(), func(ctx context.Context, i int) error {
		sc := scenes[i]
		prompt := enhancePrompt(sc.ImagePrompt, sc.Mood)

		resp, err := o.api.Post(ctx, o.tool, "generate-image", map[string]any{
			"prompt":     prompt,
			"ratio":      o.cfg.Pipeline.Ratio,
			"style":      o.cfg.Pipeline.Style,
			"provider":   o.cfg.Pipeline.Provider,
			"sceneIndex": i,
		})
		if err != nil {
			return fmt.Errorf("scene %d: %w", i, err)
		}
		url := firstString(resp, "imageUrl", "image_url", "url")
		if url == "" {
			return fmt.Errorf("scene %d: backend returned no image URL", i)
		}
		o.store.Set(fmt.Sprintf("media.images.%d.url", i), url)
		o.store.AddCost(StepMedia, firstFloat(resp, "costUsd", "cost_usd", "cost"))
		log.Printf("[images] ✅ scene %d/%d", i+1, len(scenes))
		return nil
	})

	if failed, first := batch.Failed(errs); failed > 0 {
		return fmt.Errorf("%d of %d scene images failed (first: %w)", failed, len(scenes), first)
	}
	return nil
}

func (o *Orchestrator) generateNarration(ctx context.Context, scenes []types.Scene) error {
	log.Printf("[tts] generating narration for %d scenes...", len(scenes))

	errs := batch.Run(ctx, len(scenes), o.cfg.Images.BatchSize, o.cfg.BatchDelay(), func(ctx context.Context, i int) error {
		sc := scenes[i]
		if sc.Narration == "" {
			return fmt.Errorf("scene %d has no narration text", i)
		}

		resp, err := o.api.Post(ctx, o.tool, "generate-tts", map[string]any{
			"text":       sc.Narration,
			"voice":      o.cfg.Pipeline.Voice,
			"sceneIndex": i,
		})
		if err != nil {
			return fmt.Errorf("scene %d: %w", i, err)
		}
		url := firstString(resp, "audioUrl", "audio_url", "url")
		if url == "" {
			return fmt.Errorf("scene %d: backend returned no audio URL", i)
		}
		o.store.Set(fmt.Sprintf("media.tts.%d.audioUrl", i), url)
		if dur := firstFloat(resp, "durationSec", "duration_sec", "duration"); dur > 0 {
			o.store.Set(fmt.Sprintf("media.tts.%d.durationSec", i), dur)
		}
		o.store.AddCost(StepMedia, firstFloat(resp, "costUsd", "cost_usd", "cost"))
		log.Printf("[tts] ✅ scene %d/%d", i+1, len(scenes))
		return nil
	})

	if failed, first := batch.Failed(errs); failed > 0 {
		return fmt.Errorf("%d of %d narrations failed (first: %w)", failed, len(scenes), first)
	}
	return nil
}

func enhancePrompt(base, mood string) string {
	style, ok := moodStyles[mood]
	if !ok {
		style = "cinematic, dramatic lighting, photorealistic, 4K"
	}
	if base == "" {
		return style
	}
	return base + ", " + style + ", no text, no watermark"
}
