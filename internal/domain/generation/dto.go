package generation

// GenerateRequest is the body of POST /api/v1/generate.
type GenerateRequest struct {
	ImageURL string `json:"image_url" validate:"required,url"`
	Prompt   string `json:"prompt" validate:"omitempty,max=600"`
	Quality  string `json:"quality" validate:"omitempty,quality"`
	Provider string `json:"provider" validate:"omitempty,vendor"`
}

// Normalize applies the documented defaults for omitted fields.
func (r *GenerateRequest) Normalize() {
	if r.Quality == "" {
		r.Quality = "STANDARD"
	}
	if r.Provider == "" {
		r.Provider = "meshy"
	}
}

// GenerateResponse wraps the finished job together with the caller's
// remaining balance.
type GenerateResponse struct {
	Job              *Job `json:"job"`
	RemainingCredits int  `json:"remaining_credits"`
}
