package generation

import "errors"

var (
	ErrJobNotFound      = errors.New("generation job not found")
	ErrPollTimeout      = errors.New("generation timed out")
	ErrGenerationFailed = errors.New("generation failed")
)
