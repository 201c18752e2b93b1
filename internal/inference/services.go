package inference

import "github.com/example/photo-bridge/internal/gradio"

// Hosted apps used when no override is configured.
const (
	DefaultEnhancerSpace = "finegrain/finegrain-image-enhancer"
	DefaultRestorerSpace = "ohayonguy/PMRF"
)

// EnhancerParams are the settings of the finegrain image enhancer's /process endpoint.
type EnhancerParams struct {
	Prompt            string
	NegativePrompt    string
	Seed              int
	UpscaleFactor     int
	ControlNetScale   float64
	ControlNetDecay   float64
	ConditionScale    float64
	TileWidth         int
	TileHeight        int
	DenoiseStrength   float64
	NumInferenceSteps int
	Solver            string
}

// DefaultEnhancerParams returns the settings sent with every enhancement.
func DefaultEnhancerParams() EnhancerParams {
	return EnhancerParams{
		Prompt:            "Hello!!",
		NegativePrompt:    "Hello!!",
		Seed:              42,
		UpscaleFactor:     2,
		ControlNetScale:   0.6,
		ControlNetDecay:   1,
		ConditionScale:    6,
		TileWidth:         112,
		TileHeight:        144,
		DenoiseStrength:   0.35,
		NumInferenceSteps: 18,
		Solver:            "DDIM",
	}
}

// Args implements Params.
func (p EnhancerParams) Args(input gradio.File) []any {
	return []any{
		input,
		p.Prompt,
		p.NegativePrompt,
		p.Seed,
		p.UpscaleFactor,
		p.ControlNetScale,
		p.ControlNetDecay,
		p.ConditionScale,
		p.TileWidth,
		p.TileHeight,
		p.DenoiseStrength,
		p.NumInferenceSteps,
		p.Solver,
	}
}

// RestorerParams are the settings of the PMRF face restorer's /predict endpoint.
type RestorerParams struct {
	RandomizeSeed bool
	Aligned       bool
	Scale         int
	NumFlowSteps  int
	Seed          int
}

// DefaultRestorerParams returns the settings sent with every restoration.
func DefaultRestorerParams() RestorerParams {
	return RestorerParams{
		RandomizeSeed: true,
		Aligned:       false,
		Scale:         2,
		NumFlowSteps:  25,
		Seed:          42,
	}
}

// Args implements Params. The restorer returns the seed it used as a second output.
func (p RestorerParams) Args(input gradio.File) []any {
	return []any{
		input,
		p.RandomizeSeed,
		p.Aligned,
		p.Scale,
		p.NumFlowSteps,
		p.Seed,
	}
}

// Enhancer is the photo enhancement service. space overrides the default app.
func Enhancer(space string) Service {
	if space == "" {
		space = DefaultEnhancerSpace
	}
	return Service{
		Name:                   "enhancer",
		Route:                  "/enhance",
		Page:                   "enhancer.html",
		Space:                  space,
		APIName:                "/process",
		Params:                 DefaultEnhancerParams(),
		StagingSuffix:          ".png",
		RemoteErrorUnavailable: true,
		Messages: Messages{
			OutputMissing: "Failed to retrieve the enhanced image",
			Unavailable:   "The photo enhancement service is currently unavailable. Please try again later or contact support.",
			Internal:      "An internal server error occurred. Please try again later.",
		},
	}
}

// Restorer is the face restoration service. space overrides the default app.
func Restorer(space string) Service {
	if space == "" {
		space = DefaultRestorerSpace
	}
	return Service{
		Name:    "restorer",
		Route:   "/restore",
		Page:    "restorer.html",
		Space:   space,
		APIName: "/predict",
		Params:  DefaultRestorerParams(),
		Messages: Messages{
			OutputMissing: "Failed to retrieve the restored image",
			Unavailable:   "The photo restoration service is currently unavailable. Please try again later or contact support.",
			Internal:      "An internal server error occurred. Please try again later.",
		},
	}
}
