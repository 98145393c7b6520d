package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	RangeChecks        Counter
	RangeExits         Counter
	RebalancesStarted  Counter
	RebalancesComplete Counter
	RebalancesFailed   Counter
	PositionsClosed    Counter
	FeeClaims          Counter
	AlertsSent         Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		RangeChecks:        n,
		RangeExits:         n,
		RebalancesStarted:  n,
		RebalancesComplete: n,
		RebalancesFailed:   n,
		PositionsClosed:    n,
		FeeClaims:          n,
		AlertsSent:         n,
	}
}
