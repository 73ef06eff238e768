package backfill

import "github.com/zeromicro/go-zero/core/metric"

const metricNamespace = "ingest"

var (
	recordsFetched = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: metricNamespace,
		Name:      "records_fetched_total",
		Help:      "Raw upstream records fetched per dataset.",
		Labels:    []string{"dataset"},
	})
	recordsSkipped = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: metricNamespace,
		Name:      "records_skipped_total",
		Help:      "Records dropped by the dataset filter.",
		Labels:    []string{"dataset"},
	})
	rowsWritten = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: metricNamespace,
		Name:      "rows_written_total",
		Help:      "Rows inserted or updated per dataset.",
		Labels:    []string{"dataset"},
	})
)

func recordMetrics(dataset string, wr WindowReport) {
	recordsFetched.Add(float64(wr.Fetched), dataset)
	recordsSkipped.Add(float64(wr.Skipped), dataset)
	rowsWritten.Add(float64(wr.Written), dataset)
}
