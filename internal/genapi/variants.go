package genapi

import (
	"strings"
	"time"

	"genclient/internal/domain"
)

// Encoding selects the transport representation of a submission. The upstream
// draws this distinction per endpoint: text-only variants post plain JSON,
// single-image variants upload multipart forms, multi-image variants post
// JSON with base64-embedded images.
type Encoding int

const (
	EncodingJSON Encoding = iota
	EncodingJSONBase64
	EncodingMultipart
)

// VariantConfig is the per-variant tuning table: where to post, how to encode,
// how patiently to retry, and how long to poll. Generation is slow, so the
// submit timeouts are deliberately generous.
type VariantConfig struct {
	Endpoint      string
	Encoding      Encoding
	MinImages     int
	MaxImages     int
	Video         bool
	RetryInterval time.Duration
	MaxRetries    int
	SubmitTimeout time.Duration
	PollTimeout   time.Duration
}

const (
	generateEndpoint = "/chat/images/generate"
	multiEndpoint    = "/chat/images/multi-generate"
	statusEndpoint   = "/chat/images/multi-generate/status/"
)

var variantConfigs = map[domain.Variant]VariantConfig{
	domain.VariantTextToImage: {
		Endpoint: generateEndpoint, Encoding: EncodingJSON,
		RetryInterval: 10 * time.Second, MaxRetries: 10,
		SubmitTimeout: 10 * time.Minute, PollTimeout: 10 * time.Minute,
	},
	domain.VariantAIModel: {
		Endpoint: generateEndpoint, Encoding: EncodingJSON,
		RetryInterval: 10 * time.Second, MaxRetries: 10,
		SubmitTimeout: 10 * time.Minute, PollTimeout: 10 * time.Minute,
	},
	domain.VariantGridImage: {
		Endpoint: generateEndpoint, Encoding: EncodingMultipart,
		MinImages: 1, MaxImages: 1,
		RetryInterval: 10 * time.Second, MaxRetries: 10,
		SubmitTimeout: 10 * time.Minute, PollTimeout: 10 * time.Minute,
	},
	domain.VariantMultiImage: {
		Endpoint: multiEndpoint, Encoding: EncodingJSONBase64,
		MinImages: 3, MaxImages: 3,
		RetryInterval: 5 * time.Second, MaxRetries: 10,
		SubmitTimeout: 30 * time.Minute, PollTimeout: 30 * time.Minute,
	},
	domain.VariantOutfitSwap: {
		Endpoint: multiEndpoint, Encoding: EncodingJSONBase64,
		MinImages: 2, MaxImages: 2,
		RetryInterval: 5 * time.Second, MaxRetries: 10,
		SubmitTimeout: 30 * time.Minute, PollTimeout: 30 * time.Minute,
	},
	domain.VariantTextToVideo: {
		Endpoint: generateEndpoint, Encoding: EncodingJSON, Video: true,
		RetryInterval: 60 * time.Second, MaxRetries: 60,
		SubmitTimeout: 20 * time.Minute, PollTimeout: 20 * time.Minute,
	},
	domain.VariantImageToVideo: {
		Endpoint: generateEndpoint, Encoding: EncodingMultipart, Video: true,
		MinImages: 1, MaxImages: 1,
		RetryInterval: 60 * time.Second, MaxRetries: 60,
		SubmitTimeout: 30 * time.Minute, PollTimeout: 30 * time.Minute,
	},
	domain.VariantMultiImageVideo: {
		Endpoint: multiEndpoint, Encoding: EncodingJSONBase64, Video: true,
		MinImages: 1, MaxImages: 3,
		RetryInterval: 60 * time.Second, MaxRetries: 60,
		SubmitTimeout: 30 * time.Minute, PollTimeout: 30 * time.Minute,
	},
}

// ConfigFor returns the tuning table entry for a variant.
func ConfigFor(v domain.Variant) (VariantConfig, bool) {
	cfg, ok := variantConfigs[v]
	return cfg, ok
}

// Validate checks the request against its variant's requirements. It fails
// fast, before any file or network I/O.
func Validate(req domain.GenerationRequest) error {
	cfg, ok := variantConfigs[req.Variant]
	if !ok {
		return domain.Validationf("unknown variant %q", req.Variant)
	}

	n := len(req.ImagePaths)
	switch {
	case n < cfg.MinImages && cfg.MinImages == cfg.MaxImages:
		return domain.Validationf("%s requires exactly %d image(s), got %d", req.Variant, cfg.MinImages, n)
	case n < cfg.MinImages:
		return domain.Validationf("%s requires at least %d image(s), got %d", req.Variant, cfg.MinImages, n)
	case n > cfg.MaxImages:
		return domain.Validationf("%s accepts at most %d image(s), got %d", req.Variant, cfg.MaxImages, n)
	}
	for _, p := range req.ImagePaths {
		if strings.TrimSpace(p) == "" {
			return domain.Validationf("%s: empty image path", req.Variant)
		}
	}

	if cfg.Video {
		frames := req.NFrames
		if frames == 0 {
			frames = domain.FramesFiveSeconds
		}
		if frames != domain.FramesFiveSeconds && frames != domain.FramesTenSeconds {
			return domain.Validationf("n_frames must be %d or %d, got %d", domain.FramesFiveSeconds, domain.FramesTenSeconds, frames)
		}
		if frames == domain.FramesTenSeconds {
			if strings.TrimSpace(req.Prompt1) == "" || strings.TrimSpace(req.Prompt2) == "" {
				return domain.Validationf("a 10-second video requires both segment prompts")
			}
		} else if strings.TrimSpace(req.Prompt) == "" {
			return domain.Validationf("a 5-second video requires a prompt")
		}
		return nil
	}

	if strings.TrimSpace(req.Prompt) == "" {
		return domain.Validationf("%s: prompt is required", req.Variant)
	}
	if req.GenerateVideo && strings.TrimSpace(req.VideoPrompt) == "" {
		return domain.Validationf("%s: video prompt is required when video generation is enabled", req.Variant)
	}
	return nil
}
