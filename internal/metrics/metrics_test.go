package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordTranscode(t *testing.T) {
	before := testutil.ToFloat64(TranscodesTotal.WithLabelValues("ok"))
	failedBefore := testutil.ToFloat64(TranscodesTotal.WithLabelValues("transcode_error"))

	RecordTranscode("ok", 3*time.Second)
	RecordTranscode("transcode_error", time.Second)

	assert.Equal(t, before+1, testutil.ToFloat64(TranscodesTotal.WithLabelValues("ok")))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(TranscodesTotal.WithLabelValues("transcode_error")))
}

func TestTrackInFlight(t *testing.T) {
	g := InFlight.WithLabelValues("test")
	done := TrackInFlight("test")
	assert.Equal(t, float64(1), testutil.ToFloat64(g))
	done()
	assert.Equal(t, float64(0), testutil.ToFloat64(g))
}

func TestRecordAdmissionRejection(t *testing.T) {
	before := testutil.ToFloat64(AdmissionRejectionsTotal)
	RecordAdmissionRejection()
	assert.Equal(t, before+1, testutil.ToFloat64(AdmissionRejectionsTotal))
}
