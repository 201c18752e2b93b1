package gradio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/example/photo-bridge/internal/logging"
)

const maxEventSize = 8 << 20

// Client talks to a single Gradio app. It is safe for concurrent use.
type Client struct {
	httpClient  *http.Client
	root        string
	prefix      string
	token       string
	downloadDir string
	logger      *zap.Logger
	connectBO   func() backoff.BackOff
}

// Option customises a Client built by Connect.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client, which has no timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken authenticates requests with a Hugging Face access token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithDownloadDir sets where file outputs are written.
func WithDownloadDir(dir string) Option {
	return func(c *Client) { c.downloadDir = dir }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithConnectBackOff sets the retry policy used while fetching the app config.
func WithConnectBackOff(factory func() backoff.BackOff) Option {
	return func(c *Client) { c.connectBO = factory }
}

// ResolveSource maps a Space id ("owner/name") to its app URL. Full URLs are
// returned without a trailing slash.
func ResolveSource(src string) (string, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return "", errors.New("empty gradio source")
	}
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		if _, err := url.Parse(src); err != nil {
			return "", fmt.Errorf("invalid gradio url %q: %w", src, err)
		}
		return strings.TrimRight(src, "/"), nil
	}
	parts := strings.Split(src, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("invalid space id %q", src)
	}
	host := strings.NewReplacer("/", "-", "_", "-", ".", "-").Replace(strings.ToLower(src))
	return "https://" + host + ".hf.space", nil
}

// Connect resolves src and fetches the app config, retrying transient
// failures. An error means the app cannot be used.
func Connect(ctx context.Context, src string, opts ...Option) (*Client, error) {
	root, err := ResolveSource(src)
	if err != nil {
		return nil, logging.NewOperationError("gradio.connect", "", err)
	}

	c := &Client{
		httpClient:  &http.Client{},
		root:        root,
		downloadDir: os.TempDir(),
		logger:      zap.NewNop(),
		connectBO: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("gradio").With(zap.String("app", root))

	var cfg struct {
		Version   string `json:"version"`
		APIPrefix string `json:"api_prefix"`
	}
	op := func() error {
		err := c.getJSON(ctx, c.root+"/config", &cfg)
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Status >= 400 && statusErr.Status < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("gradio config fetch failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(c.connectBO(), ctx), notify); err != nil {
		return nil, logging.NewOperationError("gradio.connect", "", err)
	}

	c.prefix = strings.TrimRight(cfg.APIPrefix, "/")
	c.logger.Info("gradio client connected", zap.String("version", cfg.Version), zap.String("api_prefix", c.prefix))
	return c, nil
}

// Root returns the resolved app URL.
func (c *Client) Root() string {
	return c.root
}

// Predict calls apiName with positional args and waits for the result.
// File arguments are uploaded first. File outputs are downloaded and
// replaced by their local path; the caller owns those files.
func (c *Client) Predict(ctx context.Context, apiName string, args ...any) ([]any, error) {
	endpoint := strings.TrimPrefix(apiName, "/")
	if endpoint == "" {
		return nil, logging.NewOperationError("gradio.predict", "", errors.New("empty api name"))
	}

	data := make([]any, len(args))
	for i, arg := range args {
		f, ok := arg.(File)
		if !ok {
			data[i] = arg
			continue
		}
		fd, err := c.upload(ctx, f)
		if err != nil {
			return nil, logging.NewOperationError("gradio.upload", "", err)
		}
		data[i] = fd
	}

	eventID, err := c.submit(ctx, endpoint, data)
	if err != nil {
		return nil, logging.NewOperationError("gradio.call", "", err)
	}
	c.logger.Debug("gradio call queued", zap.String("endpoint", endpoint), zap.String("event_id", eventID))

	outputs, err := c.await(ctx, endpoint, eventID)
	if err != nil {
		return nil, logging.NewOperationError("gradio.await", "", err)
	}

	var downloaded []string
	result := make([]any, len(outputs))
	for i, out := range outputs {
		v, err := c.localise(ctx, out, &downloaded)
		if err != nil {
			for _, p := range downloaded {
				os.Remove(p)
			}
			return nil, logging.NewOperationError("gradio.download", "", err)
		}
		result[i] = v
	}
	return result, nil
}

func (c *Client) upload(ctx context.Context, f File) (FileData, error) {
	src, err := os.Open(f.Path)
	if err != nil {
		return FileData{}, err
	}
	defer src.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("files", filepath.Base(f.Path))
	if err != nil {
		return FileData{}, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return FileData{}, fmt.Errorf("failed to copy file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return FileData{}, fmt.Errorf("failed to close writer: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.apiURL("/upload"), body)
	if err != nil {
		return FileData{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var paths []string
	if err := c.doJSON(req, "upload", &paths); err != nil {
		return FileData{}, err
	}
	if len(paths) == 0 {
		return FileData{}, errors.New("upload returned no paths")
	}
	return newFileData(paths[0], f.Path), nil
}

func (c *Client) submit(ctx context.Context, endpoint string, data []any) (string, error) {
	payload, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.apiURL("/call/"+endpoint), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp struct {
		EventID string `json:"event_id"`
	}
	if err := c.doJSON(req, "call", &resp); err != nil {
		return "", err
	}
	if resp.EventID == "" {
		return "", errors.New("call returned no event id")
	}
	return resp.EventID, nil
}

// await reads the server-sent event stream of a queued call.
func (c *Client) await(ctx context.Context, endpoint, eventID string) ([]any, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.apiURL("/call/"+endpoint+"/"+eventID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("stream", resp)
	}

	return readEvents(resp.Body, "/"+endpoint)
}

func readEvents(r io.Reader, endpoint string) ([]any, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxEventSize)

	var event string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			done, out, err := dispatch(event, data.String(), endpoint)
			if done {
				return out, err
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event stream: %w", err)
	}
	if done, out, err := dispatch(event, data.String(), endpoint); done {
		return out, err
	}
	return nil, errors.New("event stream ended before completion")
}

func dispatch(event, data, endpoint string) (bool, []any, error) {
	switch event {
	case "complete":
		var out []any
		if err := json.Unmarshal([]byte(data), &out); err != nil {
			return true, nil, fmt.Errorf("failed to decode result: %w", err)
		}
		return true, out, nil
	case "error":
		appErr := &AppError{Endpoint: endpoint}
		var msg *string
		if err := json.Unmarshal([]byte(data), &msg); err == nil && msg != nil {
			appErr.Message = *msg
		} else if err != nil {
			appErr.Message = data
		}
		return true, nil, appErr
	default:
		return false, nil, nil
	}
}

// localise replaces FileData values, including nested ones, with local paths.
func (c *Client) localise(ctx context.Context, v any, downloaded *[]string) (any, error) {
	if fd, ok := fileDataFrom(v); ok {
		p, err := c.download(ctx, fd)
		if err != nil {
			return nil, err
		}
		*downloaded = append(*downloaded, p)
		return p, nil
	}
	list, ok := v.([]any)
	if !ok {
		return v, nil
	}
	out := make([]any, len(list))
	for i, item := range list {
		lv, err := c.localise(ctx, item, downloaded)
		if err != nil {
			return nil, err
		}
		out[i] = lv
	}
	return out, nil
}

func (c *Client) download(ctx context.Context, fd FileData) (string, error) {
	src := fd.URL
	if src == "" {
		src = c.apiURL("/file=" + fd.Path)
	}
	req, err := c.newRequest(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", statusError("download", resp)
	}

	name := fd.OrigName
	if name == "" {
		name = path.Base(fd.Path)
	}
	f, err := os.CreateTemp(c.downloadDir, "output-*"+filepath.Ext(name))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to save output: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func (c *Client) apiURL(p string) string {
	return c.root + c.prefix + p
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	// Only send the token to the app itself, never to foreign file hosts.
	if c.token != "" && strings.HasPrefix(target, c.root) {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, target string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, "config", out)
}

func (c *Client) doJSON(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
