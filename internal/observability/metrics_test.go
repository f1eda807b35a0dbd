package observability

import (
	"testing"
	"time"

	"github.com/danmuck/dccrelay/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)

	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("station", "GET", "/health", 200, 12*time.Millisecond)
	RecordPacketReceived("controller", "turnout.define")
	RecordPacketDropped("controller", "validation")
	RecordListenerFailure("accessory", true)
	RecordConnectionOpened("accessory")
	RecordConnectionClosed("accessory", false)
	RecordRelay("controller_to_accessory", true)
	RecordReplay("turnout")
}
