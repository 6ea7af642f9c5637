package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Stability is the api.stability.ai image-to-3d adapter.
type Stability struct {
	baseURL string
	apiKey  string
	costs   CostTable
	poll    PollSpec
	http    *http.Client
}

// StabilityConfig configures the Stability adapter.
type StabilityConfig struct {
	BaseURL string
	APIKey  string
	Costs   CostTable
	Poll    PollSpec
}

func NewStability(cfg StabilityConfig) *Stability {
	return &Stability{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		costs:   cfg.Costs,
		poll:    cfg.Poll,
		http:    newHTTPClient(0),
	}
}

func (s *Stability) Name() string       { return "stability" }
func (s *Stability) Cost(q Quality) int { return s.costs.Credits(q) }
func (s *Stability) PollSpec() PollSpec { return s.poll }

type stabilitySubmitRequest struct {
	ImageURL string `json:"image_url"`
	Prompt   string `json:"prompt,omitempty"`
	Detail   string `json:"detail_level"`
}

type stabilitySubmitResponse struct {
	ID string `json:"id"`
}

func (s *Stability) Submit(ctx context.Context, imageURL, prompt string, quality Quality) (Handle, error) {
	var out stabilitySubmitResponse
	err := doJSON(ctx, s.http, s.Name(), http.MethodPost, s.baseURL+"/tasks", s.apiKey, stabilitySubmitRequest{
		ImageURL: imageURL,
		Prompt:   prompt,
		Detail:   strings.ToLower(string(quality)),
	}, &out)
	if err != nil {
		return Handle{}, err
	}
	if out.ID == "" {
		return Handle{}, fmt.Errorf("%w: stability: empty task id", ErrUnavailable)
	}

	return Handle{TaskID: out.ID}, nil
}

type stabilityStatusResponse struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Result   struct {
		ModelURL     string `json:"model_url"`
		VideoURL     string `json:"video_url"`
		ThumbnailURL string `json:"thumbnail_url"`
	} `json:"result"`
	Error string `json:"error"`
}

func (s *Stability) Poll(ctx context.Context, taskID string) (Status, error) {
	var out stabilityStatusResponse
	err := doJSON(ctx, s.http, s.Name(), http.MethodGet, s.baseURL+"/tasks/"+taskID, s.apiKey, nil, &out)
	if err != nil {
		return Status{}, err
	}

	// Stability vocabulary: queued, in-progress, complete, error
	st := Status{
		Progress:     out.Progress,
		ModelURL:     out.Result.ModelURL,
		VideoURL:     out.Result.VideoURL,
		ThumbnailURL: out.Result.ThumbnailURL,
		ErrorMessage: out.Error,
	}
	switch out.Status {
	case "complete":
		st.State = StateCompleted
	case "error":
		st.State = StateFailed
	case "queued":
		st.State = StatePending
	default:
		st.State = StateProcessing
	}

	return st, nil
}
