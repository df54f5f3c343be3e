package cubestream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus counters a VirtualCube updates when wired
// with WithMetrics. Counters register against the given Registerer, so
// callers control exposure.
type Metrics struct {
	// TilesFetched counts tiles fetched successfully.
	TilesFetched prometheus.Counter

	// FetchErrors counts failed or invalid tile fetches.
	FetchErrors prometheus.Counter

	// BytesMaterialized counts bytes assembled by Materialize.
	BytesMaterialized prometheus.Counter
}

// NewMetrics creates and registers the cubestream counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TilesFetched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cubestream",
			Name:      "tiles_fetched_total",
			Help:      "Number of tiles fetched successfully.",
		}),
		FetchErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cubestream",
			Name:      "tile_fetch_errors_total",
			Help:      "Number of tile fetches that failed or returned an invalid chunk.",
		}),
		BytesMaterialized: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cubestream",
			Name:      "materialized_bytes_total",
			Help:      "Bytes assembled into eager cubes by Materialize.",
		}),
	}
}
