// Package inference describes the hosted models the bridge services call:
// which app, which endpoint, and the fixed parameters sent with every image.
package inference

import (
	"context"

	"github.com/example/photo-bridge/internal/gradio"
)

// Predictor is the subset of the remote client used by the bridge.
// *gradio.Client satisfies it.
type Predictor interface {
	Predict(ctx context.Context, apiName string, args ...any) ([]any, error)
}

// Params is a fixed parameter record for one remote endpoint. Args returns
// the positional arguments in the order the endpoint publishes them.
type Params interface {
	Args(input gradio.File) []any
}

// Messages are the user-facing error texts of a service.
type Messages struct {
	OutputMissing string
	Unavailable   string
	Internal      string
}

// Service binds an HTTP route to a hosted model endpoint.
type Service struct {
	Name    string
	Route   string
	Page    string
	Space   string
	APIName string
	Params  Params

	// StagingSuffix is the fixed extension given to staged uploads.
	// When empty the extension of the uploaded filename is kept.
	StagingSuffix string

	// RemoteErrorUnavailable maps application errors reported by the
	// remote app to 503 instead of the generic 500.
	RemoteErrorUnavailable bool

	Messages Messages
}

// Args returns the remote call arguments for a staged input file.
func (s Service) Args(stagedPath string) []any {
	return s.Params.Args(gradio.HandleFile(stagedPath))
}
