package ports

import "github.com/acortes/kalmaker/internal/domain"

// TickSource yields new quote rows in global chronological order across all
// tracked per-day log files. Injectable so tests can feed synthetic ticks
// instead of tailing files.
type TickSource interface {
	// Poll returns all rows that appeared since the last call, sorted by
	// timestamp. Reconciliation correctness depends on this ordering.
	Poll() ([]domain.Quote, error)
}
