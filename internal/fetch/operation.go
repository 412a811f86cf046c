package fetch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kilupskalvis/recordfetch/internal/async"
	"github.com/kilupskalvis/recordfetch/internal/logging"
	"github.com/kilupskalvis/recordfetch/internal/metrics"
	"github.com/kilupskalvis/recordfetch/internal/models"
)

// operation carries the bookkeeping for one issued fetch.
type operation struct {
	id     string
	kind   models.RequestKind
	label  string
	start  time.Time
	logger *slog.Logger
}

func begin(ctx context.Context, kind models.RequestKind, label string) *operation {
	op := &operation{
		id:    uuid.NewString(),
		kind:  kind,
		label: label,
		start: time.Now(),
	}
	op.logger = logging.FromContext(ctx).With("op", op.id, "kind", string(kind))
	op.logger.Debug(label)
	metrics.InFlight.Inc()
	return op
}

// track reports f's outcome once it settles and returns f unchanged.
func track[T any](op *operation, f *async.Future[T]) *async.Future[T] {
	go func() {
		<-f.Done()
		metrics.InFlight.Dec()
		elapsed := time.Since(op.start)

		_, err := f.Await(context.Background())
		switch {
		case f.Suppressed():
			metrics.ObserveFetch(string(op.kind), metrics.OutcomeSuppressed, elapsed)
			op.logger.Debug("owner torn down, result dropped", "label", op.label, "duration", elapsed)
		case err != nil:
			metrics.ObserveFetch(string(op.kind), metrics.OutcomeRejected, elapsed)
			op.logger.Debug("fetch rejected", "label", op.label, "error", err, "duration", elapsed)
		default:
			metrics.ObserveFetch(string(op.kind), metrics.OutcomeResolved, elapsed)
			op.logger.Debug("fetch settled", "label", op.label, "duration", elapsed)
		}
	}()
	return f
}
