package synth

import (
	"context"
	"strings"
	"testing"

	"github.com/opsdesk/pamphletd/internal/gigachat"
)

func TestSynthesizePage(t *testing.T) {
	llm := &fakeLLM{
		vision: func(_ string) (gigachat.VisionResult, error) {
			return gigachat.VisionResult{Text: "ocr transcript"}, nil
		},
		complete: func(_, user string) (string, error) {
			if !strings.Contains(user, "ocr transcript") || !strings.Contains(user, "layer text") {
				t.Errorf("merge prompt missing inputs: %q", user)
			}
			return "normalized instruction", nil
		},
	}
	res, err := SynthesizePage(context.Background(), llm, "page.jpg", "layer text", gigachat.CallOptions{})
	if err != nil {
		t.Fatalf("SynthesizePage: %v", err)
	}
	if res.Degraded {
		t.Error("unexpected degraded flag")
	}
	if res.OCR != "ocr transcript" || res.Instruction != "normalized instruction" {
		t.Errorf("res = %+v", res)
	}
}

func TestSynthesizePageDegradedFallsBackToLayer(t *testing.T) {
	llm := &fakeLLM{
		vision: func(_ string) (gigachat.VisionResult, error) {
			return gigachat.VisionResult{Text: "GigaChat error: HTTP 413", Degraded: true}, nil
		},
		complete: func(_, user string) (string, error) {
			if strings.Contains(user, "HTTP 413") {
				t.Error("degraded OCR message leaked into the merge prompt")
			}
			return "from layer only", nil
		},
	}
	res, err := SynthesizePage(context.Background(), llm, "page.jpg", "layer text", gigachat.CallOptions{})
	if err != nil {
		t.Fatalf("SynthesizePage: %v", err)
	}
	if !res.Degraded {
		t.Error("degraded flag not set")
	}
	if res.OCR != "GigaChat error: HTTP 413" {
		t.Errorf("OCR = %q, want the descriptive message preserved", res.OCR)
	}
	if res.Instruction != "from layer only" {
		t.Errorf("instruction = %q", res.Instruction)
	}
}

func TestSynthesizePageNothingReadable(t *testing.T) {
	llm := &fakeLLM{
		vision: func(_ string) (gigachat.VisionResult, error) {
			return gigachat.VisionResult{Text: "oversized", Degraded: true}, nil
		},
		complete: func(_, _ string) (string, error) {
			t.Fatal("merge should be skipped when both inputs are empty")
			return "", nil
		},
	}
	res, err := SynthesizePage(context.Background(), llm, "page.jpg", "   ", gigachat.CallOptions{})
	if err != nil {
		t.Fatalf("SynthesizePage: %v", err)
	}
	if res.Instruction != "" {
		t.Errorf("instruction = %q, want empty", res.Instruction)
	}
}
