package sharding

// Recorder is the metrics sink a ConnectionManager reports to. The core
// engine depends only on this interface — pkg/observability supplies the
// concrete Prometheus-backed implementation so this package stays free
// of a direct dependency on the metrics library.
type Recorder interface {
	ObserveBreakerPhase(endpoint string, phase BreakerPhase)
	IncRetry(endpoint string)
	IncAttempt(endpoint string, outcome string)
	ObserveDispatch(shardSet string, mode string, shard string, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveBreakerPhase(string, BreakerPhase)      {}
func (nopRecorder) IncRetry(string)                               {}
func (nopRecorder) IncAttempt(string, string)                      {}
func (nopRecorder) ObserveDispatch(string, string, string, error) {}

// NopRecorder is the default Recorder used when none is supplied.
var NopRecorder Recorder = nopRecorder{}
