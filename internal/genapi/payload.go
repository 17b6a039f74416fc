package genapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"genclient/internal/domain"
)

type imageFile struct {
	name string
	data []byte
}

func readImages(paths []string) ([]imageFile, error) {
	files := make([]imageFile, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("genapi: read image %s: %w", p, err)
		}
		if len(data) == 0 {
			return nil, domain.Validationf("image file %s is empty", p)
		}
		files = append(files, imageFile{name: filepath.Base(p), data: data})
	}
	return files, nil
}

// buildBody encodes a validated request into the wire body its variant's
// endpoint expects and returns the body with its Content-Type.
func buildBody(req domain.GenerationRequest, cfg VariantConfig) ([]byte, string, error) {
	images, err := readImages(req.ImagePaths)
	if err != nil {
		return nil, "", err
	}

	switch cfg.Encoding {
	case EncodingMultipart:
		return buildMultipartBody(req, cfg, images)
	case EncodingJSONBase64:
		return buildBase64Body(req, cfg, images)
	default:
		return buildJSONBody(req, cfg)
	}
}

func buildJSONBody(req domain.GenerationRequest, cfg VariantConfig) ([]byte, string, error) {
	payload := map[string]any{
		"workflow_type": string(req.Variant),
	}
	addPrompts(payload, req, cfg)
	if strings.TrimSpace(req.NegativePrompt) != "" {
		payload["negative_prompt"] = req.NegativePrompt
	}
	if req.Seed != nil {
		payload["seed"] = strconv.Itoa(*req.Seed)
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, "", err
	}
	return raw, "application/json", nil
}

func buildBase64Body(req domain.GenerationRequest, cfg VariantConfig, images []imageFile) ([]byte, string, error) {
	payload := map[string]any{
		"workflow_type": string(req.Variant),
		"prompt":        req.CombinedPrompt(),
	}
	for i, img := range images {
		key := fmt.Sprintf("image%d_base64", i+1)
		payload[key] = base64.StdEncoding.EncodeToString(img.data)
	}
	// The outfit endpoint wants three image slots; the garment image fills
	// both the second and third.
	if req.Variant == domain.VariantOutfitSwap && len(images) == 2 {
		payload["image3_base64"] = payload["image2_base64"]
	}
	if strings.TrimSpace(req.NegativePrompt) != "" {
		payload["negative_prompt"] = req.NegativePrompt
	}
	if req.Seed != nil {
		payload["seed"] = strconv.Itoa(*req.Seed)
	}
	if cfg.Video {
		payload["generate_video"] = true
		payload["n_frames"] = strconv.Itoa(framesOrDefault(req))
		payload["video_prompt"] = req.CombinedPrompt()
		if strings.TrimSpace(req.VideoPrompt) != "" {
			payload["video_prompt"] = req.VideoPrompt
		}
	} else if req.GenerateVideo {
		payload["generate_video"] = true
		payload["video_prompt"] = req.VideoPrompt
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, "", err
	}
	return raw, "application/json", nil
}

func buildMultipartBody(req domain.GenerationRequest, cfg VariantConfig, images []imageFile) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, img := range images {
		part, err := w.CreateFormFile("image", img.name)
		if err != nil {
			return nil, "", fmt.Errorf("genapi: build form: %w", err)
		}
		if _, err := part.Write(img.data); err != nil {
			return nil, "", fmt.Errorf("genapi: build form: %w", err)
		}
	}

	fields := map[string]string{
		"workflow_type": string(req.Variant),
	}
	if req.TwoSegments() {
		fields["prompt1"] = req.Prompt1
		fields["prompt2"] = req.Prompt2
	} else {
		fields["prompt"] = req.Prompt
	}
	if cfg.Video {
		fields["n_frames"] = strconv.Itoa(framesOrDefault(req))
	}
	if strings.TrimSpace(req.NegativePrompt) != "" {
		fields["negative_prompt"] = req.NegativePrompt
	}
	if req.Seed != nil {
		fields["seed"] = strconv.Itoa(*req.Seed)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("genapi: build form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("genapi: build form: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func marshalPayload(payload map[string]any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("genapi: encode request: %w", err)
	}
	return raw, nil
}

func addPrompts(payload map[string]any, req domain.GenerationRequest, cfg VariantConfig) {
	if cfg.Video {
		payload["n_frames"] = strconv.Itoa(framesOrDefault(req))
		if req.TwoSegments() {
			payload["prompt1"] = req.Prompt1
			payload["prompt2"] = req.Prompt2
			return
		}
	}
	payload["prompt"] = req.Prompt
}

func framesOrDefault(req domain.GenerationRequest) int {
	if req.NFrames == 0 {
		return domain.FramesFiveSeconds
	}
	return req.NFrames
}
