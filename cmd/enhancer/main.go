// Command enhancer serves the photo enhancement bridge.
package main

import (
	"github.com/example/photo-bridge/internal/app"
	"github.com/example/photo-bridge/internal/config"
	"github.com/example/photo-bridge/internal/inference"
)

func main() {
	app.Main(func(cfg *config.Config) inference.Service {
		return inference.Enhancer(cfg.EnhancerSpace)
	})
}
