package handlers

import (
	"errors"
	"io"
	"io/fs"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/photo-bridge/internal/usecase"
)

// MaxUploadSize bounds the request body of the upload route.
const MaxUploadSize = 20 << 20

const fileField = "file"

// Client-facing messages for rejected uploads.
const (
	msgNoFilePart     = "No file part"
	msgNoSelectedFile = "No selected file"
	msgTooLarge       = "File too large"
	msgStatsDisabled  = "Request statistics are not enabled"
	msgStatsFailed    = "Failed to load request statistics"
)

// Envelope is the JSON body of every bridge response.
type Envelope struct {
	Success bool   `json:"success"`
	Image   string `json:"image,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Options carries the optional collaborators of RegisterRoutes.
type Options struct {
	// Pages holds the service's HTML page; nil disables "/".
	Pages fs.FS
	// RateLimit guards the upload route when set.
	RateLimit gin.HandlerFunc
	// Auth guards the statistics route. Without it /stats is not registered.
	Auth gin.HandlerFunc
	// Stats backs /stats; nil answers 503.
	Stats usecase.Aggregator
	// Metrics serves the Prometheus exposition at /metrics when set.
	Metrics http.Handler
	Logger  *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.BridgeUseCase, opts Options) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := uc.Service()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if opts.Pages != nil {
		page, err := fs.ReadFile(opts.Pages, svc.Page)
		if err != nil {
			logger.Warn("page not found, / disabled", zap.String("page", svc.Page), zap.Error(err))
		} else {
			router.GET("/", func(c *gin.Context) {
				c.Data(http.StatusOK, "text/html; charset=utf-8", page)
			})
		}
	}

	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	chain := []gin.HandlerFunc{}
	if opts.RateLimit != nil {
		chain = append(chain, opts.RateLimit)
	}
	chain = append(chain, bridgeHandler(uc, logger))
	router.POST(svc.Route, chain...)

	if opts.Auth != nil {
		router.GET("/stats", opts.Auth, statsHandler(opts.Stats, svc.Name, logger))
	}
}

func bridgeHandler(uc *usecase.BridgeUseCase, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := RequestID(c)
		reqLogger := logger.With(zap.String("request_id", requestID))
		reqLogger.Info("received upload request", zap.String("route", c.FullPath()))

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize)

		part, filename, err := openUpload(c.Request)
		if err != nil {
			respondUploadError(c, reqLogger, err)
			return
		}
		defer part.Close()

		result, err := uc.Process(c.Request.Context(), requestID, filename, part)
		if err != nil {
			if isTooLarge(err) {
				respondUploadError(c, reqLogger, err)
				return
			}
			failure := uc.Classify(err)
			c.JSON(failure.Status, Envelope{Success: false, Error: failure.Message})
			return
		}

		c.JSON(http.StatusOK, Envelope{Success: true, Image: result.Image})
	}
}

var (
	errNoFilePart     = errors.New(msgNoFilePart)
	errNoSelectedFile = errors.New(msgNoSelectedFile)
)

// openUpload streams the multipart body up to the "file" part. A part with
// no filename parameter is a plain form value and is skipped; a filename
// parameter that is present but empty means nothing was selected.
func openUpload(r *http.Request) (*multipart.Part, string, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, "", errNoFilePart
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, "", errNoFilePart
		}
		if err != nil {
			if isTooLarge(err) {
				return nil, "", err
			}
			return nil, "", errNoFilePart
		}
		if part.FormName() != fileField {
			part.Close()
			continue
		}

		_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		if err != nil {
			part.Close()
			return nil, "", errNoFilePart
		}
		filename, ok := params["filename"]
		if !ok {
			part.Close()
			continue
		}
		if filename == "" {
			part.Close()
			return nil, "", errNoSelectedFile
		}
		return part, filename, nil
	}
}

func respondUploadError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case isTooLarge(err):
		logger.Warn("upload exceeds size limit", zap.Int64("limit", MaxUploadSize))
		c.JSON(http.StatusRequestEntityTooLarge, Envelope{Success: false, Error: msgTooLarge})
	case errors.Is(err, errNoSelectedFile):
		logger.Warn("no selected file")
		c.JSON(http.StatusBadRequest, Envelope{Success: false, Error: msgNoSelectedFile})
	default:
		logger.Warn("no file part in the request")
		c.JSON(http.StatusBadRequest, Envelope{Success: false, Error: msgNoFilePart})
	}
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func statsHandler(agg usecase.Aggregator, service string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if agg == nil {
			c.JSON(http.StatusServiceUnavailable, Envelope{Success: false, Error: msgStatsDisabled})
			return
		}
		summary, err := usecase.Summarize(c.Request.Context(), agg, service)
		if err != nil {
			logger.Error("failed to summarise request logs", zap.Error(err), zap.String("request_id", RequestID(c)))
			c.JSON(http.StatusInternalServerError, Envelope{Success: false, Error: msgStatsFailed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "stats": summary})
	}
}
