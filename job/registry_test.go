package job

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()

	r.Register("sprite-gen", func(_ context.Context, _ *Job) ([]byte, error) {
		return []byte("ok"), nil
	})

	h, ok := r.Get("sprite-gen")
	if !ok {
		t.Fatal("expected handler for sprite-gen")
	}
	out, err := h(context.Background(), &Job{Type: "sprite-gen"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if string(out) != "ok" {
		t.Errorf("handler result = %q, want %q", out, "ok")
	}

	if _, ok := r.Get("unknown"); ok {
		t.Error("Get should report false for unregistered types")
	}
}

func TestRegisterTyped_UnmarshalsPayload(t *testing.T) {
	type genRequest struct {
		Prompt string `json:"prompt"`
		Steps  int    `json:"steps"`
	}
	type genResult struct {
		AssetURL string `json:"asset_url"`
	}

	r := NewRegistry()
	RegisterTyped(r, "texture-gen", func(_ context.Context, _ *Job, req genRequest) (genResult, error) {
		if req.Prompt != "mossy stone wall" || req.Steps != 30 {
			t.Errorf("unexpected payload: %+v", req)
		}
		return genResult{AssetURL: "s3://assets/wall.png"}, nil
	})

	h, _ := r.Get("texture-gen")
	payload, _ := json.Marshal(genRequest{Prompt: "mossy stone wall", Steps: 30})
	out, err := h(context.Background(), &Job{Type: "texture-gen", Payload: payload})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	var res genResult
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if res.AssetURL != "s3://assets/wall.png" {
		t.Errorf("result = %+v", res)
	}
}

func TestRegisterTyped_BadPayload(t *testing.T) {
	r := NewRegistry()
	RegisterTyped(r, "texture-gen", func(_ context.Context, _ *Job, _ struct{ N int }) (int, error) {
		return 0, nil
	})

	h, _ := r.Get("texture-gen")
	if _, err := h(context.Background(), &Job{Payload: []byte("{not json")}); err == nil {
		t.Error("expected unmarshal error for malformed payload")
	}
}

func TestRegisterTyped_PropagatesHandlerError(t *testing.T) {
	r := NewRegistry()
	want := errors.New("cuda out of memory")
	RegisterTyped(r, "texture-gen", func(_ context.Context, _ *Job, _ struct{}) (struct{}, error) {
		return struct{}{}, want
	})

	h, _ := r.Get("texture-gen")
	if _, err := h(context.Background(), &Job{}); !errors.Is(err, want) {
		t.Errorf("handler error = %v, want %v", err, want)
	}
}

func TestRegistry_Types(t *testing.T) {
	r := NewRegistry()
	r.Register("a", func(context.Context, *Job) ([]byte, error) { return nil, nil })
	r.Register("b", func(context.Context, *Job) ([]byte, error) { return nil, nil })

	if got := len(r.Types()); got != 2 {
		t.Errorf("Types() len = %d, want 2", got)
	}
}
