// Package gradio is a small client for models published as Gradio apps,
// such as Hugging Face Spaces. It covers connecting to an app, uploading
// input files, calling a named endpoint and downloading file outputs.
package gradio

import (
	"fmt"
	"path/filepath"
)

const fileDataType = "gradio.FileData"

// File marks a local file argument that must be uploaded before the call.
type File struct {
	Path string
}

// HandleFile wraps a local path so Predict uploads it.
func HandleFile(path string) File {
	return File{Path: path}
}

// FileData is the wire representation of a file living on the remote app.
type FileData struct {
	Path     string            `json:"path"`
	URL      string            `json:"url,omitempty"`
	Size     *int64            `json:"size,omitempty"`
	OrigName string            `json:"orig_name,omitempty"`
	MimeType string            `json:"mime_type,omitempty"`
	IsStream bool              `json:"is_stream,omitempty"`
	Meta     map[string]string `json:"meta,omitempty"`
}

func newFileData(serverPath, localPath string) FileData {
	return FileData{
		Path:     serverPath,
		OrigName: filepath.Base(localPath),
		Meta:     map[string]string{"_type": fileDataType},
	}
}

// fileDataFrom recognises FileData objects inside a decoded JSON value.
func fileDataFrom(v any) (FileData, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return FileData{}, false
	}
	path, _ := m["path"].(string)
	url, _ := m["url"].(string)
	if path == "" && url == "" {
		return FileData{}, false
	}
	if meta, ok := m["meta"].(map[string]any); ok {
		if t, _ := meta["_type"].(string); t != "" && t != fileDataType {
			return FileData{}, false
		}
	} else if url == "" {
		return FileData{}, false
	}
	orig, _ := m["orig_name"].(string)
	mime, _ := m["mime_type"].(string)
	return FileData{Path: path, URL: url, OrigName: orig, MimeType: mime}, true
}

// AppError is reported by the remote app itself, as opposed to transport
// or decoding failures.
type AppError struct {
	Endpoint string
	Message  string
}

func (e *AppError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gradio app error on %s", e.Endpoint)
	}
	return fmt.Sprintf("gradio app error on %s: %s", e.Endpoint, e.Message)
}

// StatusError is returned when the app answers with an unexpected HTTP status.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status code: %d, body: %s", e.Op, e.Status, e.Body)
}
