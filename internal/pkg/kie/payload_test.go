package kie

import "testing"

func TestBuildPayloadInjectsSeed(t *testing.T) {
	payload := BuildPayload("seedream-v4-text-to-image", PayloadInput{Prompt: "a cat"}, Capabilities{})

	seed, ok := payload["seed"].(int64)
	if !ok {
		t.Fatalf("expected injected int64 seed, got %T", payload["seed"])
	}
	if seed < 0 || seed > maxSeed {
		t.Fatalf("seed %d out of range", seed)
	}
}

func TestBuildPayloadKeepsCallerSeed(t *testing.T) {
	payload := BuildPayload("seedream-v4-text-to-image", PayloadInput{
		Prompt: "a cat",
		Params: map[string]interface{}{"seed": 42},
	}, Capabilities{})

	if payload["seed"] != 42 {
		t.Fatalf("expected caller seed 42, got %v", payload["seed"])
	}
}

func TestBuildPayloadAspectRatioDefault(t *testing.T) {
	payload := BuildPayload("grok-imagine/text-to-image", PayloadInput{Prompt: "a dog"}, Capabilities{})
	if payload["aspect_ratio"] != "16:9" {
		t.Fatalf("expected default aspect_ratio 16:9, got %v", payload["aspect_ratio"])
	}

	payload = BuildPayload("grok-imagine/text-to-image", PayloadInput{
		Prompt: "a dog",
		Params: map[string]interface{}{"aspect_ratio": "1:1"},
	}, Capabilities{})
	if payload["aspect_ratio"] != "1:1" {
		t.Fatalf("expected caller aspect_ratio 1:1, got %v", payload["aspect_ratio"])
	}

	payload = BuildPayload("kling-v2", PayloadInput{Prompt: "a dog"}, Capabilities{})
	if _, ok := payload["aspect_ratio"]; ok {
		t.Fatal("kling must not get a default aspect_ratio")
	}
}

func TestBuildPayloadImageSlots(t *testing.T) {
	caps := Capabilities{SupportsImageInput: true}

	payload := BuildPayload("seedream-v4-image-to-image", PayloadInput{
		Prompt:            "restyle",
		ReferenceImageURL: "https://cdn.example.com/ref.png",
	}, caps)
	if payload["image"] != "https://cdn.example.com/ref.png" {
		t.Fatalf("image-to-image model must use the image slot, got %v", payload["image"])
	}

	payload = BuildPayload("imagen-4", PayloadInput{
		Prompt:            "restyle",
		ReferenceImageURL: "https://cdn.example.com/ref.png",
	}, caps)
	if payload["reference_image"] != "https://cdn.example.com/ref.png" {
		t.Fatalf("text-to-image model must use reference_image, got %v", payload["reference_image"])
	}

	// Model without image support must not receive the reference.
	payload = BuildPayload("imagen-4", PayloadInput{
		Prompt:            "restyle",
		ReferenceImageURL: "https://cdn.example.com/ref.png",
	}, Capabilities{})
	if _, ok := payload["reference_image"]; ok {
		t.Fatal("reference_image set despite missing capability")
	}
}

func TestBuildPayloadVideoFrames(t *testing.T) {
	payload := BuildPayload("kling-v2-video", PayloadInput{
		Prompt:        "pan across the valley",
		StartFrameURL: "https://cdn.example.com/start.png",
		EndFrameURL:   "https://cdn.example.com/end.png",
	}, Capabilities{SupportsStartFrame: true, SupportsEndFrame: true})

	if payload["start_frame"] != "https://cdn.example.com/start.png" {
		t.Fatalf("missing start_frame, got %v", payload["start_frame"])
	}
	if payload["end_frame"] != "https://cdn.example.com/end.png" {
		t.Fatalf("missing end_frame, got %v", payload["end_frame"])
	}
}
