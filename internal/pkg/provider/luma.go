package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Luma is the Dream Machine (lumalabs.ai) adapter.
type Luma struct {
	baseURL string
	apiKey  string
	costs   CostTable
	poll    PollSpec
	http    *http.Client
}

// LumaConfig configures the Luma adapter.
type LumaConfig struct {
	BaseURL string
	APIKey  string
	Costs   CostTable
	Poll    PollSpec
}

func NewLuma(cfg LumaConfig) *Luma {
	return &Luma{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		costs:   cfg.Costs,
		poll:    cfg.Poll,
		http:    newHTTPClient(0),
	}
}

func (l *Luma) Name() string       { return "luma" }
func (l *Luma) Cost(q Quality) int { return l.costs.Credits(q) }
func (l *Luma) PollSpec() PollSpec { return l.poll }

type lumaSubmitRequest struct {
	Prompt      string `json:"prompt"`
	Image       string `json:"image"`
	AspectRatio string `json:"aspect_ratio"`
	Quality     string `json:"quality"`
}

type lumaSubmitResponse struct {
	ID string `json:"id"`
}

func (l *Luma) Submit(ctx context.Context, imageURL, prompt string, quality Quality) (Handle, error) {
	if prompt == "" {
		prompt = "Create a detailed 3D model from this image"
	}

	var out lumaSubmitResponse
	err := doJSON(ctx, l.http, l.Name(), http.MethodPost, l.baseURL+"/generations", l.apiKey, lumaSubmitRequest{
		Prompt:      prompt,
		Image:       imageURL,
		AspectRatio: "1:1",
		Quality:     strings.ToLower(string(quality)),
	}, &out)
	if err != nil {
		return Handle{}, err
	}
	if out.ID == "" {
		return Handle{}, fmt.Errorf("%w: luma: empty generation id", ErrUnavailable)
	}

	return Handle{TaskID: out.ID}, nil
}

type lumaStatusResponse struct {
	State    string `json:"state"`
	Progress int    `json:"progress"`
	Assets   struct {
		Model     string `json:"model"`
		Video     string `json:"video"`
		Thumbnail string `json:"thumbnail"`
	} `json:"assets"`
	FailureReason string `json:"failure_reason"`
}

func (l *Luma) Poll(ctx context.Context, taskID string) (Status, error) {
	var out lumaStatusResponse
	err := doJSON(ctx, l.http, l.Name(), http.MethodGet, l.baseURL+"/generations/"+taskID, l.apiKey, nil, &out)
	if err != nil {
		return Status{}, err
	}

	// Luma vocabulary: queued, dreaming, completed, failed
	st := Status{
		Progress:     out.Progress,
		ModelURL:     out.Assets.Model,
		VideoURL:     out.Assets.Video,
		ThumbnailURL: out.Assets.Thumbnail,
		ErrorMessage: out.FailureReason,
	}
	switch out.State {
	case "completed":
		st.State = StateCompleted
	case "failed":
		st.State = StateFailed
	case "queued":
		st.State = StatePending
	default:
		st.State = StateProcessing
	}

	return st, nil
}
