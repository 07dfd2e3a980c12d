// Package videogen drives the Veo model that turns a product's reference
// images into a short studio clip.
package videogen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const (
	// Model is the Veo release the pipeline generates with.
	Model = "veo-3.1-generate-preview"

	// MaxReferenceImages is the most conditioning images a single
	// generation call accepts.
	MaxReferenceImages = 3

	defaultPollInterval = 5 * time.Second
)

// Reference is one conditioning image for a generation call.
type Reference struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Request carries everything one generation call needs.
type Request struct {
	ProductID  string
	Category   string
	Prompt     string
	References []Reference
}

// Video is a produced clip.
type Video struct {
	Data     []byte
	MIMEType string
}

// Generator produces one video per request. Implementations honor ctx
// cancellation and deadlines; a generation that outlives its deadline
// returns ctx.Err wrapped.
type Generator interface {
	Generate(ctx context.Context, req Request) (Video, error)
}

// VeoGenerator calls Veo through the Gemini API. Generation is a
// long-running operation: the call starts it, then polls until the
// operation reports done or the context expires.
type VeoGenerator struct {
	client       *genai.Client
	model        string
	pollInterval time.Duration
}

var _ Generator = (*VeoGenerator)(nil)

// NewVeoGenerator creates a VeoGenerator on the given client.
func NewVeoGenerator(client *genai.Client) *VeoGenerator {
	return &VeoGenerator{
		client:       client,
		model:        Model,
		pollInterval: defaultPollInterval,
	}
}

// Generate runs one text-plus-references generation call and returns the
// produced clip. The references condition the subject; there is no
// first-frame image.
func (g *VeoGenerator) Generate(ctx context.Context, req Request) (Video, error) {
	if len(req.References) == 0 {
		return Video{}, errors.New("no reference images")
	}
	if len(req.References) > MaxReferenceImages {
		return Video{}, fmt.Errorf("%d reference images exceed the limit of %d", len(req.References), MaxReferenceImages)
	}

	refs := make([]*genai.VideoGenerationReferenceImage, len(req.References))
	for i, ref := range req.References {
		refs[i] = &genai.VideoGenerationReferenceImage{
			Image: &genai.Image{
				ImageBytes: ref.Data,
				MIMEType:   ref.MIMEType,
			},
			ReferenceType: genai.VideoGenerationReferenceTypeAsset,
		}
	}

	config := &genai.GenerateVideosConfig{
		NumberOfVideos:  1,
		DurationSeconds: genai.Ptr(int32(8)),
		Resolution:      "1080p",
		GenerateAudio:   genai.Ptr(false),
		ReferenceImages: refs,
	}

	log.Info().
		Str("product_id", req.ProductID).
		Str("category", req.Category).
		Int("reference_count", len(refs)).
		Str("model", g.model).
		Msg("Starting video generation")
	start := time.Now()

	op, err := g.client.Models.GenerateVideos(ctx, g.model, req.Prompt, nil, config)
	if err != nil {
		return Video{}, fmt.Errorf("starting video generation for %s: %w", req.ProductID, err)
	}

	for !op.Done {
		select {
		case <-ctx.Done():
			return Video{}, fmt.Errorf("video generation for %s: %w", req.ProductID, ctx.Err())
		case <-time.After(g.pollInterval):
		}
		op, err = g.client.Operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			return Video{}, fmt.Errorf("polling video generation for %s: %w", req.ProductID, err)
		}
	}

	if op.Error != nil {
		return Video{}, fmt.Errorf("video generation for %s failed: %v", req.ProductID, op.Error)
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 || op.Response.GeneratedVideos[0].Video == nil {
		return Video{}, fmt.Errorf("video generation for %s returned no videos", req.ProductID)
	}

	produced := op.Response.GeneratedVideos[0].Video
	if _, err := g.client.Files.Download(ctx, produced, nil); err != nil {
		return Video{}, fmt.Errorf("downloading generated video for %s: %w", req.ProductID, err)
	}
	if len(produced.VideoBytes) == 0 {
		return Video{}, fmt.Errorf("video generation for %s returned an empty video", req.ProductID)
	}

	mimeType := produced.MIMEType
	if mimeType == "" {
		mimeType = "video/mp4"
	}

	log.Info().
		Str("product_id", req.ProductID).
		Int("video_bytes", len(produced.VideoBytes)).
		Dur("elapsed", time.Since(start)).
		Msg("Video generation completed")

	return Video{Data: produced.VideoBytes, MIMEType: mimeType}, nil
}
