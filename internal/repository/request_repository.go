package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/photo-bridge/internal/logging"
)

// RequestLog is the audit row written for every bridged request.
type RequestLog struct {
	ID         uint      `gorm:"primaryKey"`
	RequestID  string    `gorm:"column:request_id;uniqueIndex;size:64"`
	Service    string    `gorm:"column:service;size:32;index"`
	Outcome    string    `gorm:"column:outcome;size:32"`
	HTTPStatus int       `gorm:"column:http_status"`
	LatencyMs  int64     `gorm:"column:latency_ms"`
	InputSize  int64     `gorm:"column:input_size"`
	InputSHA1  string    `gorm:"column:input_sha1;size:40;index"`
	ErrorClass string    `gorm:"column:error_class;size:64"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name used by GORM.
func (RequestLog) TableName() string {
	return "request_logs"
}

// Aggregation holds summary figures computed by the database.
type Aggregation struct {
	TotalCount       int64
	SuccessCount     int64
	AverageLatencyMs float64
}

// RequestRepository persists request logs.
type RequestRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRequestRepository constructs a repository backed by the provided GORM DB.
func NewRequestRepository(db *gorm.DB, logger *zap.Logger) *RequestRepository {
	return &RequestRepository{
		db:             db,
		logger:         logger.Named("request_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *RequestRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&RequestLog{})
}

// SaveLog persists a request log entry, retrying transient failures.
func (r *RequestRepository) SaveLog(ctx context.Context, log *RequestLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// AggregateMetrics summarises the logs of one service, or all when service is empty.
func (r *RequestRepository) AggregateMetrics(ctx context.Context, service string) (*Aggregation, error) {
	var row struct {
		TotalCount       int64
		SuccessCount     int64
		AverageLatencyMs float64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		q := r.db.WithContext(ctx).Model(&RequestLog{}).Select(
			"COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN outcome = 'succeeded' THEN 1 ELSE 0 END), 0) AS success_count, " +
				"COALESCE(AVG(latency_ms), 0) AS average_latency_ms")
		if service != "" {
			q = q.Where("service = ?", service)
		}
		return q.Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}
	return &Aggregation{
		TotalCount:       row.TotalCount,
		SuccessCount:     row.SuccessCount,
		AverageLatencyMs: row.AverageLatencyMs,
	}, nil
}

func (r *RequestRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}
	opLogger := logging.WithOperation(r.logger, operation, requestID)

	backoff := r.initialBackoff
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if !isTransientError(err) {
			break
		}
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	opLogger.Error("database operation failed", zap.Error(err))
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}
