package store

import (
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// observe records one call of op. Use as
//
//	defer h.observe("get", time.Now(), &err)
func (h *Handler) observe(op string, start time.Time, err *error) {
	labels := fmt.Sprintf(`{api=%q,op=%q}`, h.config.API, op)
	metrics.GetOrCreateCounter("dataapi_operations_total" + labels).Inc()
	metrics.GetOrCreateHistogram("dataapi_operation_duration_seconds" + labels).UpdateDuration(start)
	if err != nil && *err != nil {
		metrics.GetOrCreateCounter("dataapi_operation_errors_total" + labels).Inc()
	}
}

func (h *Handler) countRejection(facet string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`dataapi_conditional_rejections_total{api=%q,facet=%q}`, h.config.API, facet)).Inc()
}

func countSchemaReload(api, facet string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`dataapi_schema_reloads_total{api=%q,facet=%q}`, api, facet)).Inc()
}
