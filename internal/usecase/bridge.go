package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/photo-bridge/internal/gradio"
	"github.com/example/photo-bridge/internal/inference"
	"github.com/example/photo-bridge/internal/logging"
	"github.com/example/photo-bridge/internal/metrics"
	"github.com/example/photo-bridge/internal/repository"
	"github.com/example/photo-bridge/internal/staging"
)

// Errors returned by Process, classified by Classify.
var (
	ErrRemoteUnavailable = errors.New("remote model reported an error")
	ErrMalformedResult   = errors.New("remote result has no output path")
	ErrOutputMissing     = errors.New("remote output file does not exist")
)

// Request outcomes, as recorded in logs and metrics.
const (
	OutcomeSucceeded         = "succeeded"
	OutcomeRemoteUnavailable = "remote_unavailable"
	OutcomeInternalError     = "internal_error"
)

// RequestLogStore persists request audit rows.
type RequestLogStore interface {
	SaveLog(ctx context.Context, log *repository.RequestLog) error
}

// Result is a successfully processed image.
type Result struct {
	RequestID string
	Image     string
}

// Failure is the client-facing view of a failed request.
type Failure struct {
	Status  int
	Message string
	Outcome string
}

// BridgeUseCase stages an upload, runs it through the hosted model and
// encodes the output.
type BridgeUseCase struct {
	svc       inference.Service
	predictor inference.Predictor
	logs      RequestLogStore
	tempDir   string
	logger    *zap.Logger
}

// NewBridgeUseCase constructs a use case. logs may be nil to disable auditing.
func NewBridgeUseCase(svc inference.Service, predictor inference.Predictor, logs RequestLogStore, tempDir string, logger *zap.Logger) *BridgeUseCase {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &BridgeUseCase{
		svc:       svc,
		predictor: predictor,
		logs:      logs,
		tempDir:   tempDir,
		logger:    logger.Named(svc.Name + "_usecase"),
	}
}

// Service returns the service definition this use case serves.
func (uc *BridgeUseCase) Service() inference.Service {
	return uc.svc
}

// Process runs one upload through the remote model. The staged input and
// every output file are removed before Process returns, whatever the outcome.
func (uc *BridgeUseCase) Process(ctx context.Context, requestID, filename string, src io.Reader) (result *Result, err error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.process", requestID)
	start := time.Now()

	hasher := sha1.New()
	counter := &countingWriter{}
	var stagedPath, outputPath string
	var extraPaths []string

	defer func() {
		p := recover()
		if p != nil {
			err = logging.NewOperationError("usecase.process", requestID, fmt.Errorf("panic: %v", p))
		}
		uc.cleanup(opLogger, stagedPath, outputPath, extraPaths)
		uc.record(ctx, requestID, start, counter.n, hex.EncodeToString(hasher.Sum(nil)), err)
		if p != nil {
			panic(p)
		}
	}()

	suffix := uc.svc.StagingSuffix
	if suffix == "" {
		suffix = staging.SuffixOf(filename)
	}
	stagedPath, err = staging.Stage(io.TeeReader(src, io.MultiWriter(hasher, counter)), uc.tempDir, suffix)
	if err != nil {
		return nil, logging.NewOperationError("usecase.stage_input", requestID, err)
	}
	opLogger.Info("saved uploaded file to temporary location", zap.String("path", stagedPath), zap.Int64("size", counter.n))

	output, err := uc.callRemote(ctx, opLogger, stagedPath)
	if err != nil {
		return nil, logging.NewOperationError("usecase.call_remote", requestID, err)
	}

	outputPath, extraPaths = outputPaths(output)
	if outputPath == "" {
		return nil, logging.NewOperationError("usecase.read_output", requestID, ErrMalformedResult)
	}
	if !uc.ownsPath(outputPath) {
		return nil, logging.NewOperationError("usecase.read_output", requestID, fmt.Errorf("%w: %s is outside the temp dir", ErrMalformedResult, outputPath))
	}
	if !staging.Exists(outputPath) {
		return nil, logging.NewOperationError("usecase.read_output", requestID, fmt.Errorf("%w: %s", ErrOutputMissing, outputPath))
	}

	opLogger.Info("reading output image", zap.String("path", outputPath))
	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, logging.NewOperationError("usecase.read_output", requestID, err)
	}

	return &Result{
		RequestID: requestID,
		Image:     base64.StdEncoding.EncodeToString(data),
	}, nil
}

func (uc *BridgeUseCase) callRemote(ctx context.Context, opLogger *zap.Logger, stagedPath string) ([]any, error) {
	inflight := metrics.InflightRequests.WithLabelValues(uc.svc.Name)
	inflight.Inc()
	defer inflight.Dec()

	opLogger.Info("calling remote model", zap.String("space", uc.svc.Space), zap.String("api_name", uc.svc.APIName))
	start := time.Now()
	output, err := uc.predictor.Predict(ctx, uc.svc.APIName, uc.svc.Args(stagedPath)...)
	elapsed := time.Since(start)

	if err != nil {
		metrics.RemoteCallDuration.WithLabelValues(uc.svc.Name, "error").Observe(elapsed.Seconds())
		var appErr *gradio.AppError
		if errors.As(err, &appErr) {
			return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
		}
		return nil, err
	}
	metrics.RemoteCallDuration.WithLabelValues(uc.svc.Name, "ok").Observe(elapsed.Seconds())
	opLogger.Info("remote model call completed", zap.Duration("elapsed", elapsed))
	return output, nil
}

// Classify maps a Process error to the response the client receives.
// Internal details never reach the message.
func (uc *BridgeUseCase) Classify(err error) Failure {
	switch {
	case errors.Is(err, ErrRemoteUnavailable) && uc.svc.RemoteErrorUnavailable:
		return Failure{Status: http.StatusServiceUnavailable, Message: uc.svc.Messages.Unavailable, Outcome: OutcomeRemoteUnavailable}
	case errors.Is(err, ErrMalformedResult), errors.Is(err, ErrOutputMissing):
		return Failure{Status: http.StatusInternalServerError, Message: uc.svc.Messages.OutputMissing, Outcome: OutcomeInternalError}
	default:
		return Failure{Status: http.StatusInternalServerError, Message: uc.svc.Messages.Internal, Outcome: OutcomeInternalError}
	}
}

func (uc *BridgeUseCase) cleanup(opLogger *zap.Logger, stagedPath, outputPath string, extraPaths []string) {
	remove := func(path, what string) {
		removed, err := staging.Remove(path)
		if err != nil {
			opLogger.Error("failed to delete temporary file", zap.String("kind", what), zap.String("path", path), zap.Error(err))
			return
		}
		if removed {
			opLogger.Info("deleted temporary file", zap.String("kind", what), zap.String("path", path))
		}
	}

	remove(stagedPath, "input")
	if uc.ownsPath(outputPath) {
		remove(outputPath, "output")
	}
	for _, p := range extraPaths {
		if p != outputPath && uc.ownsPath(p) && staging.Exists(p) {
			remove(p, "output")
		}
	}
}

// ownsPath reports whether p lies inside the temp dir. Paths outside it are
// never read or deleted.
func (uc *BridgeUseCase) ownsPath(p string) bool {
	rel, err := filepath.Rel(uc.tempDir, p)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

func (uc *BridgeUseCase) record(ctx context.Context, requestID string, start time.Time, size int64, digest string, err error) {
	outcome := OutcomeSucceeded
	status := http.StatusOK
	errorClass := ""
	if err != nil {
		f := uc.Classify(err)
		outcome, status = f.Outcome, f.Status
		errorClass = logging.OperationOf(err)
		logging.WithOperation(uc.logger, errorClass, requestID).Error("request failed", zap.Error(err), zap.Int("status", status))
	}
	metrics.RequestCount.WithLabelValues(uc.svc.Name, outcome).Inc()

	if uc.logs == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	entry := &repository.RequestLog{
		RequestID:  requestID,
		Service:    uc.svc.Name,
		Outcome:    outcome,
		HTTPStatus: status,
		LatencyMs:  time.Since(start).Milliseconds(),
		InputSize:  size,
		InputSHA1:  digest,
		ErrorClass: errorClass,
		CreatedAt:  time.Now().UTC(),
	}
	if saveErr := uc.logs.SaveLog(saveCtx, entry); saveErr != nil {
		logging.WithOperation(uc.logger, "usecase.record", requestID).Warn("failed to persist request log", zap.Error(saveErr))
	}
}

// outputPaths picks the output image path from a remote result. Element 0 is
// the image, or a composite whose first entry is. Any other string values are
// returned as extras for cleanup.
func outputPaths(output []any) (string, []string) {
	if len(output) == 0 {
		return "", nil
	}
	var extras []string
	first := output[0]
	if list, ok := first.([]any); ok {
		if len(list) == 0 {
			return "", collectStrings(output[1:], nil)
		}
		first = list[0]
		extras = collectStrings(list[1:], extras)
	}
	primary, _ := first.(string)
	return primary, collectStrings(output[1:], extras)
}

func collectStrings(values []any, into []string) []string {
	for _, v := range values {
		switch t := v.(type) {
		case string:
			into = append(into, t)
		case []any:
			into = collectStrings(t, into)
		}
	}
	return into
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}
