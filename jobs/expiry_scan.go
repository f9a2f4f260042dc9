package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/beanline/beanline/internal/observability"
	"github.com/beanline/beanline/internal/stock"
)

// ExpiryScanner runs the nightly sweep that flips overdue lots to EXPIRED and
// logs an operator digest.
type ExpiryScanner struct {
	logger  *slog.Logger
	stocks  *stock.Service
	metrics *observability.Metrics
	printer *message.Printer
}

// NewExpiryScanner constructs a scanner. metrics may be nil.
func NewExpiryScanner(logger *slog.Logger, stocks *stock.Service, metrics *observability.Metrics) *ExpiryScanner {
	return &ExpiryScanner{
		logger:  logger,
		stocks:  stocks,
		metrics: metrics,
		printer: message.NewPrinter(language.English),
	}
}

// HandleExpiryScan processes TaskExpiryScan tasks.
func (s *ExpiryScanner) HandleExpiryScan(ctx context.Context, t *asynq.Task) error {
	var payload ExpiryScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	now := time.Now().UTC()
	flipped, err := s.stocks.MarkExpiredLots(ctx, now)
	if err != nil {
		return err
	}
	s.metrics.CountExpiredLots(flipped)

	report, err := s.stocks.ExpirationAlerts(ctx)
	if err != nil {
		s.logger.Warn("expiry scan: report unavailable", slog.Any("error", err))
		return nil
	}
	s.logger.Info("expiry scan finished",
		slog.String("scheduled_for", payload.ScheduledFor.Format(time.RFC3339)),
		slog.Int("expired_now", flipped),
		slog.String("digest", s.printer.Sprintf("%d expired lots, %d expiring within window, %d units at risk",
			len(report.Expired), len(report.ExpiringSoon), report.UnitsAtRisk())),
	)
	return nil
}

// HandleStockResync processes TaskStockResync tasks.
func (s *ExpiryScanner) HandleStockResync(ctx context.Context, t *asynq.Task) error {
	var payload StockResyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if _, err := s.stocks.SyncProduct(ctx, payload.ProductID); err != nil {
		return err
	}
	s.logger.Info("stock resync finished", slog.Int64("product_id", payload.ProductID))
	return nil
}
