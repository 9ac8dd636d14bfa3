package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTaskRun(t *testing.T) {
	before := testutil.ToFloat64(taskRunsTotal.WithLabelValues("importing", "success"))
	RecordTaskRun("importing", "success")
	RecordTaskRun("importing", "success")
	if got := testutil.ToFloat64(taskRunsTotal.WithLabelValues("importing", "success")); got != before+2 {
		t.Errorf("task runs = %v, want %v", got, before+2)
	}
}

func TestSetQueueDepth(t *testing.T) {
	SetQueueDepth(7)
	if got := testutil.ToFloat64(queueDepth); got != 7 {
		t.Errorf("queue depth = %v, want 7", got)
	}
}

func TestRecordRelocationFinished(t *testing.T) {
	RecordRelocationFinished("FAILURE", "PREPROCESSING")
	if got := testutil.ToFloat64(relocationsFinishedTotal.WithLabelValues("FAILURE", "PREPROCESSING")); got < 1 {
		t.Errorf("finished = %v, want at least 1", got)
	}
}
