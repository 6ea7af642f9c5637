package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Tripo is the api.tripo3d.ai adapter.
type Tripo struct {
	baseURL string
	apiKey  string
	costs   CostTable
	poll    PollSpec
	http    *http.Client
}

// TripoConfig configures the Tripo adapter.
type TripoConfig struct {
	BaseURL string
	APIKey  string
	Costs   CostTable
	Poll    PollSpec
}

func NewTripo(cfg TripoConfig) *Tripo {
	return &Tripo{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		costs:   cfg.Costs,
		poll:    cfg.Poll,
		http:    newHTTPClient(0),
	}
}

func (t *Tripo) Name() string       { return "tripo" }
func (t *Tripo) Cost(q Quality) int { return t.costs.Credits(q) }
func (t *Tripo) PollSpec() PollSpec { return t.poll }

type tripoSubmitRequest struct {
	Type         string `json:"type"`
	ImageURL     string `json:"image_url"`
	ModelVersion string `json:"model_version"`
	GenerateRig  bool   `json:"generate_rig"`
	GeneratePBR  bool   `json:"generate_pbr"`
}

type tripoSubmitResponse struct {
	Data struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
}

func (t *Tripo) Submit(ctx context.Context, imageURL, prompt string, quality Quality) (Handle, error) {
	_ = prompt // tripo's image_to_model task has no prompt parameter

	version := "v1.4-20240625"
	if quality == QualityUltra {
		version = "v2.0-20240919"
	}

	var out tripoSubmitResponse
	err := doJSON(ctx, t.http, t.Name(), http.MethodPost, t.baseURL+"/task", t.apiKey, tripoSubmitRequest{
		Type:         "image_to_model",
		ImageURL:     imageURL,
		ModelVersion: version,
		GenerateRig:  quality != QualityStandard,
		GeneratePBR:  quality == QualityUltra,
	}, &out)
	if err != nil {
		return Handle{}, err
	}
	if out.Data.TaskID == "" {
		return Handle{}, fmt.Errorf("%w: tripo: empty task id", ErrUnavailable)
	}

	return Handle{TaskID: out.Data.TaskID}, nil
}

type tripoStatusResponse struct {
	Data struct {
		Status   string `json:"status"`
		Progress int    `json:"progress"`
		Output   struct {
			Model         string `json:"model"`
			RenderedImage string `json:"rendered_image"`
		} `json:"output"`
		Error string `json:"error"`
	} `json:"data"`
}

func (t *Tripo) Poll(ctx context.Context, taskID string) (Status, error) {
	var out tripoStatusResponse
	err := doJSON(ctx, t.http, t.Name(), http.MethodGet, t.baseURL+"/task/"+taskID, t.apiKey, nil, &out)
	if err != nil {
		return Status{}, err
	}

	// Tripo vocabulary: queued, running, success, failed, cancelled, banned
	task := out.Data
	st := Status{
		Progress:     task.Progress,
		ModelURL:     task.Output.Model,
		ThumbnailURL: task.Output.RenderedImage,
		ErrorMessage: task.Error,
	}
	switch task.Status {
	case "success":
		st.State = StateCompleted
	case "failed", "cancelled", "banned":
		st.State = StateFailed
	case "queued":
		st.State = StatePending
	default:
		st.State = StateProcessing
	}

	return st, nil
}
