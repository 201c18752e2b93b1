// Package web embeds the single page each service serves at "/".
package web

import "embed"

//go:embed *.html
var Pages embed.FS
