package kie

import (
	"math/rand"
	"strings"
)

// Capabilities describes which input slots a model accepts.
type Capabilities struct {
	SupportsImageInput bool `json:"supports_image_input"`
	SupportsVideoInput bool `json:"supports_video_input"`
	SupportsStartFrame bool `json:"supports_start_frame"`
	SupportsEndFrame   bool `json:"supports_end_frame"`
	SupportsAudioInput bool `json:"supports_audio_input"`
}

// PayloadInput carries the user-facing generation inputs.
type PayloadInput struct {
	Prompt            string
	ReferenceImageURL string
	ReferenceVideoURL string
	StartFrameURL     string
	EndFrameURL       string
	AudioURL          string
	Params            map[string]interface{}
}

// maxSeed is 2^31-1, the largest seed most provider models accept.
const maxSeed = 2147483647

// BuildPayload shapes the provider request body for a model. Field placement
// depends on the model key and capabilities because the provider uses
// different input slot names per model group.
func BuildPayload(modelKey string, input PayloadInput, caps Capabilities) map[string]interface{} {
	payload := map[string]interface{}{
		"prompt": input.Prompt,
	}

	// Inject a random seed when the caller did not pin one, so repeated
	// generations with the same prompt do not collapse to one output.
	if _, hasSeed := input.Params["seed"]; !hasSeed {
		if _, hasRandomSeed := input.Params["random_seed"]; !hasRandomSeed {
			payload["seed"] = rand.Int63n(maxSeed + 1)
		}
	}

	// These model groups reject requests without an aspect ratio.
	if requiresAspectRatio(modelKey) {
		payload["aspect_ratio"] = "16:9"
		if ar, ok := input.Params["aspect_ratio"]; ok && ar != "" {
			payload["aspect_ratio"] = ar
		}
	}

	if isImageModel(modelKey) && input.ReferenceImageURL != "" && caps.SupportsImageInput {
		if usesDirectImageSlot(modelKey) {
			payload["image"] = input.ReferenceImageURL
		} else {
			payload["reference_image"] = input.ReferenceImageURL
		}
	}

	if isVideoModel(modelKey) {
		if input.ReferenceImageURL != "" && caps.SupportsImageInput {
			payload["image"] = input.ReferenceImageURL
		}
		if input.ReferenceVideoURL != "" && caps.SupportsVideoInput {
			payload["video"] = input.ReferenceVideoURL
		}
		if input.StartFrameURL != "" && caps.SupportsStartFrame {
			payload["start_frame"] = input.StartFrameURL
		}
		if input.EndFrameURL != "" && caps.SupportsEndFrame {
			payload["end_frame"] = input.EndFrameURL
		}
	}

	if isAudioModel(modelKey) && input.AudioURL != "" && caps.SupportsAudioInput {
		payload["audio"] = input.AudioURL
	}

	// Caller params win over defaults, except an empty aspect_ratio must not
	// clobber the one we set above.
	for k, v := range input.Params {
		if k == "aspect_ratio" {
			if s, ok := v.(string); ok && s == "" {
				continue
			}
		}
		payload[k] = v
	}

	return payload
}

func requiresAspectRatio(modelKey string) bool {
	return containsAny(modelKey, "grok-imagine", "gpt-image", "ideogram", "flux2")
}

func isImageModel(modelKey string) bool {
	return containsAny(modelKey,
		"image", "seedream", "flux", "imagen", "grok-imagine",
		"gpt-image", "ideogram", "recraft", "topaz")
}

func isVideoModel(modelKey string) bool {
	return containsAny(modelKey,
		"video", "kling", "bytedance", "hailuo", "sora", "wan", "grok-imagine")
}

func isAudioModel(modelKey string) bool {
	return containsAny(modelKey, "elevenlabs", "infinitalk", "audio")
}

func usesDirectImageSlot(modelKey string) bool {
	return containsAny(modelKey,
		"image-to-image", "edit", "upscale", "remove-background", "crisp-upscale")
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
