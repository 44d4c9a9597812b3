// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, counter.Write(metric))
	return metric.GetCounter().GetValue()
}

func TestMediaRequestDeniedBumpsBothCounters(t *testing.T) {
	deniedBefore := counterValue(t, mediaRequestsDenied.WithLabelValues("path_escape"))
	outcomeBefore := counterValue(t, mediaRequests.WithLabelValues("denied"))

	IncMediaRequestDenied("path_escape")

	require.Equal(t, deniedBefore+1, counterValue(t, mediaRequestsDenied.WithLabelValues("path_escape")))
	require.Equal(t, outcomeBefore+1, counterValue(t, mediaRequests.WithLabelValues("denied")))
}

func TestFeedCacheCounters(t *testing.T) {
	hitsBefore := counterValue(t, feedCacheHits)
	missesBefore := counterValue(t, feedCacheMisses)

	IncFeedCacheHit()
	IncFeedCacheMiss()
	IncFeedCacheMiss()

	require.Equal(t, hitsBefore+1, counterValue(t, feedCacheHits))
	require.Equal(t, missesBefore+2, counterValue(t, feedCacheMisses))
}

func TestDownloadOutcomesAreSeparateSeries(t *testing.T) {
	okBefore := counterValue(t, downloadsTotal.WithLabelValues("success"))
	failBefore := counterValue(t, downloadsTotal.WithLabelValues("tool_failure"))

	RecordDownload("success", 0)
	RecordDownload("tool_failure", 0)
	RecordDownload("tool_failure", 0)

	require.Equal(t, okBefore+1, counterValue(t, downloadsTotal.WithLabelValues("success")))
	require.Equal(t, failBefore+2, counterValue(t, downloadsTotal.WithLabelValues("tool_failure")))
}
