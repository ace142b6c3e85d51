package observability

import "testing"

func TestRegisterMetricsIsIdempotent(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics() // second call must not panic on duplicate registration
	RecordIteration()
	RecordSubStep()
	RecordHaloRow("0")
	RecordResidual(0.5)
	RecordSourceStates(2, 1)
}
