package domain

import (
	"strconv"
	"strings"
)

// Variant enumerates the supported generation workflows.
type Variant string

const (
	VariantTextToImage     Variant = "text-to-image"
	VariantAIModel         Variant = "ai-model"
	VariantTextToVideo     Variant = "text-to-video"
	VariantImageToVideo    Variant = "image-to-video"
	VariantMultiImage      Variant = "multi-image"
	VariantOutfitSwap      Variant = "outfit-swap"
	VariantGridImage       Variant = "grid-image"
	VariantMultiImageVideo Variant = "multi-image-video"
)

// Frame counts accepted by the video workflows. 150 frames is a single
// 5-second segment, 300 frames is two sequential 5-second segments and
// requires a prompt per segment.
const (
	FramesFiveSeconds = 150
	FramesTenSeconds  = 300
)

// GenerationRequest carries the inputs for one generation call. Which fields
// are required depends on the variant; Validate in the genapi package checks
// them before any network traffic.
type GenerationRequest struct {
	Variant        Variant
	Prompt         string
	Prompt1        string // first 5-second segment, 300-frame videos only
	Prompt2        string // second 5-second segment, 300-frame videos only
	NegativePrompt string
	Seed           *int
	NFrames        int
	ImagePaths     []string
	GenerateVideo  bool
	VideoPrompt    string
}

// TwoSegments reports whether the request asks for a two-segment video.
func (r GenerationRequest) TwoSegments() bool {
	return r.NFrames == FramesTenSeconds
}

// CombinedPrompt joins the segment prompts the way the multi-image endpoint
// expects a single prompt field, or returns the plain prompt for one segment.
func (r GenerationRequest) CombinedPrompt() string {
	if !r.TwoSegments() {
		return strings.TrimSpace(r.Prompt)
	}
	p1 := strings.TrimSpace(r.Prompt1)
	p2 := strings.TrimSpace(r.Prompt2)
	switch {
	case p1 != "" && p2 != "":
		return p1 + "; " + p2
	case p1 != "":
		return p1
	default:
		return p2
	}
}

// ParseSeed interprets user-supplied seed text. Empty or whitespace input
// means "no seed" rather than seed zero.
func ParseSeed(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
