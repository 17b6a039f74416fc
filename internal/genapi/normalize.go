package genapi

import (
	"encoding/json"
	"strings"

	"genclient/internal/domain"
)

// wireMedia decodes one artifact reference. The backend is not consistent:
// an entry may be a bare URL string or an object with any of several field
// spellings.
type wireMedia struct {
	URL      string
	Filename string
	MIMEType string
}

func (m *wireMedia) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		m.URL = s
		return nil
	}
	var obj struct {
		URL      string `json:"url"`
		ImageURL string `json:"image_url"`
		VideoURL string `json:"video_url"`
		Filename string `json:"filename"`
		MIMEType string `json:"mime_type"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		// Unknown entry shape; drop it rather than fail the whole result.
		return nil
	}
	m.URL = obj.URL
	if m.URL == "" {
		m.URL = obj.ImageURL
	}
	if m.URL == "" {
		m.URL = obj.VideoURL
	}
	m.Filename = obj.Filename
	m.MIMEType = obj.MIMEType
	return nil
}

type wireResult struct {
	Images   []wireMedia `json:"images"`
	Videos   []wireMedia `json:"videos"`
	ImageURL string      `json:"image_url"`
	VideoURL string      `json:"video_url"`
	URL      string      `json:"url"`
	Cost     *float64    `json:"cost"`
	Balance  *float64    `json:"balance"`
	Data     *wireResult `json:"data"`
}

// Normalize folds an upstream response body, in whichever of its shapes, into
// the canonical result. It never fails: a body that matches nothing usable
// yields an empty result, and a body that is not JSON at all is taken as a
// single bare URL.
func Normalize(raw []byte) domain.NormalizedResult {
	var out domain.NormalizedResult

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return out
	}

	var w wireResult
	if err := json.Unmarshal(raw, &w); err != nil {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			addByGuess(&out, strings.TrimSpace(s))
			return out
		}
		addByGuess(&out, text)
		return out
	}

	fold(&out, &w)
	return out
}

// fold walks a decoded envelope in priority order: explicit arrays first,
// then single-URL fields, then the nested data object. Later sources only
// contribute artifacts the earlier ones did not.
func fold(out *domain.NormalizedResult, w *wireResult) {
	for _, m := range w.Images {
		if m.URL != "" {
			out.Images = append(out.Images, mediaFrom(m, ""))
		}
	}
	for _, m := range w.Videos {
		if m.URL != "" {
			out.Videos = append(out.Videos, mediaFrom(m, "video/mp4"))
		}
	}
	if len(out.Images) == 0 && w.ImageURL != "" {
		out.Images = append(out.Images, domain.Media{URL: w.ImageURL})
	}
	if len(out.Videos) == 0 && w.VideoURL != "" {
		out.Videos = append(out.Videos, domain.Media{URL: w.VideoURL, MIMEType: "video/mp4"})
	}
	if out.Empty() && w.URL != "" {
		addByGuess(out, w.URL)
	}
	if out.Cost == nil {
		out.Cost = w.Cost
	}
	if out.Balance == nil {
		out.Balance = w.Balance
	}
	if w.Data != nil {
		fold(out, w.Data)
	}
}

func mediaFrom(m wireMedia, defaultMIME string) domain.Media {
	mime := m.MIMEType
	if mime == "" {
		mime = defaultMIME
	}
	return domain.Media{URL: m.URL, Filename: m.Filename, MIMEType: mime}
}

// addByGuess files a lone URL under images or videos based on its surface
// form. Everything not recognizably video is an image.
func addByGuess(out *domain.NormalizedResult, u string) {
	if u == "" {
		return
	}
	if looksLikeVideo(u) {
		out.Videos = append(out.Videos, domain.Media{URL: u, MIMEType: "video/mp4"})
		return
	}
	out.Images = append(out.Images, domain.Media{URL: u})
}

func looksLikeVideo(u string) bool {
	lower := strings.ToLower(u)
	return strings.HasPrefix(lower, "data:video") ||
		strings.Contains(lower, ".mp4") ||
		strings.Contains(lower, ".webm")
}
