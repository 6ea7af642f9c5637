package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Meshy is the api.meshy.ai image-to-3d adapter.
type Meshy struct {
	baseURL string
	apiKey  string
	costs   CostTable
	poll    PollSpec
	http    *http.Client
}

// MeshyConfig configures the Meshy adapter.
type MeshyConfig struct {
	BaseURL string
	APIKey  string
	Costs   CostTable
	Poll    PollSpec
}

func NewMeshy(cfg MeshyConfig) *Meshy {
	return &Meshy{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		costs:   cfg.Costs,
		poll:    cfg.Poll,
		http:    newHTTPClient(0),
	}
}

func (m *Meshy) Name() string       { return "meshy" }
func (m *Meshy) Cost(q Quality) int { return m.costs.Credits(q) }
func (m *Meshy) PollSpec() PollSpec { return m.poll }

type meshySubmitRequest struct {
	ImageURL        string `json:"image_url"`
	EnablePBR       bool   `json:"enable_pbr"`
	SurfaceMode     string `json:"surface_mode"`
	TargetPolycount int    `json:"target_polycount"`
	Prompt          string `json:"prompt"`
}

type meshySubmitResponse struct {
	ID string `json:"id"`
}

func (m *Meshy) Submit(ctx context.Context, imageURL, prompt string, quality Quality) (Handle, error) {
	polycount := 10000
	switch quality {
	case QualityHigh:
		polycount = 20000
	case QualityUltra:
		polycount = 50000
	}

	if prompt == "" {
		prompt = "High quality 3D model"
	}

	var out meshySubmitResponse
	err := doJSON(ctx, m.http, m.Name(), http.MethodPost, m.baseURL+"/image-to-3d", m.apiKey, meshySubmitRequest{
		ImageURL:        imageURL,
		EnablePBR:       true,
		SurfaceMode:     "organic",
		TargetPolycount: polycount,
		Prompt:          prompt,
	}, &out)
	if err != nil {
		return Handle{}, err
	}
	if out.ID == "" {
		return Handle{}, fmt.Errorf("%w: meshy: empty task id", ErrUnavailable)
	}

	return Handle{TaskID: out.ID}, nil
}

type meshyStatusResponse struct {
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	ModelURL     string `json:"model_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	ErrorMessage string `json:"error_message"`
}

func (m *Meshy) Poll(ctx context.Context, taskID string) (Status, error) {
	var out meshyStatusResponse
	err := doJSON(ctx, m.http, m.Name(), http.MethodGet, m.baseURL+"/image-to-3d/"+taskID, m.apiKey, nil, &out)
	if err != nil {
		return Status{}, err
	}

	// Meshy vocabulary: PENDING, IN_PROGRESS, SUCCEEDED, FAILED, EXPIRED
	st := Status{
		Progress:     out.Progress,
		ModelURL:     out.ModelURL,
		ThumbnailURL: out.ThumbnailURL,
		ErrorMessage: out.ErrorMessage,
	}
	switch out.Status {
	case "SUCCEEDED":
		st.State = StateCompleted
	case "FAILED", "EXPIRED":
		st.State = StateFailed
	case "PENDING":
		st.State = StatePending
	default:
		st.State = StateProcessing
	}

	return st, nil
}
