// Package enrich implements the enrichment coordinator: concurrent
// fan-out of image description and voice transcription over a message
// history, backed by the TTL caches so repeated provider calls for the
// same attachment are short-circuited.
package enrich

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"botc/pkg/botc/cache"
	"botc/pkg/botc/message"
)

// ImageDescriber generates a natural-language description of an image.
type ImageDescriber interface {
	DescribeImage(ctx context.Context, imageURL string) (string, error)
}

// VoiceTranscriber transcribes the voice clip at clipURL.
type VoiceTranscriber interface {
	TranscribeAudio(ctx context.Context, clipURL string) (string, error)
}

// Coordinator fans out enrichment calls over a batch of messages. Every
// qualifying attachment is processed in its own goroutine; a failed unit
// leaves that message's enrichment field unset and never aborts the batch.
type Coordinator struct {
	descriptions   *cache.Cache
	transcriptions *cache.Cache
	describer      ImageDescriber
	transcriber    VoiceTranscriber
	logger         *slog.Logger

	// flight deduplicates concurrent cache misses for the same attachment
	// so a burst of identical uncached URLs issues one provider call.
	flight singleflight.Group
}

// New creates a coordinator over the two enrichment caches.
func New(descriptions, transcriptions *cache.Cache, describer ImageDescriber, transcriber VoiceTranscriber, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		descriptions:   descriptions,
		transcriptions: transcriptions,
		describer:      describer,
		transcriber:    transcriber,
		logger:         logger.With("component", "enrich"),
	}
}

// Enrich annotates the batch: image descriptions for every image
// attachment and a transcription for every voice clip. All units run
// concurrently; Enrich returns once every unit has finished. Callers
// should invoke it at most once per message instance, since descriptions
// are append-only.
func (c *Coordinator) Enrich(ctx context.Context, msgs []*message.Message) {
	var wg sync.WaitGroup
	for _, msg := range msgs {
		for _, img := range msg.Images {
			wg.Add(1)
			go func(msg *message.Message, img message.ImageAttachment) {
				defer wg.Done()
				c.describeUnit(ctx, msg, img)
			}(msg, img)
		}
		if msg.HasVoice() {
			wg.Add(1)
			go func(msg *message.Message) {
				defer wg.Done()
				c.transcribeUnit(ctx, msg)
			}(msg)
		}
	}
	wg.Wait()
}

func (c *Coordinator) describeUnit(ctx context.Context, msg *message.Message, img message.ImageAttachment) {
	_, err, _ := c.flight.Do("image:"+img.URL, func() (any, error) {
		if c.descriptions.Contains(img.URL) {
			return nil, nil
		}
		description, err := c.describer.DescribeImage(ctx, img.URL)
		if err != nil {
			return nil, err
		}
		c.descriptions.Put(img.URL, description)
		return nil, nil
	})
	if err != nil {
		c.logger.Warn("image description failed", "url", img.URL, "error", err)
		return
	}
	if description, ok := c.descriptions.Get(img.URL); ok {
		msg.AddImageDescription(description)
	}
}

func (c *Coordinator) transcribeUnit(ctx context.Context, msg *message.Message) {
	clipURL := msg.Voice.URL
	_, err, _ := c.flight.Do("voice:"+clipURL, func() (any, error) {
		if c.transcriptions.Contains(clipURL) {
			return nil, nil
		}
		transcription, err := c.transcriber.TranscribeAudio(ctx, clipURL)
		if err != nil {
			return nil, err
		}
		c.transcriptions.Put(clipURL, transcription)
		return nil, nil
	})
	if err != nil {
		c.logger.Warn("voice transcription failed", "url", clipURL, "error", err)
		return
	}
	if transcription, ok := c.transcriptions.Get(clipURL); ok {
		msg.SetTranscription(transcription)
	}
}
