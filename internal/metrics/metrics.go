package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(value float64)
}

type Metrics struct {
	Utilizations       Counter
	Deutilizations     Counter
	SwapFailures       Counter
	KeeperActions      Counter
	ResponseDeviations Counter
	WithdrawsQueued    Counter
	WithdrawsClaimed   Counter

	CurrentLeverage Gauge
	TotalAssets     Gauge
	WithdrawGap     Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		Utilizations:       n,
		Deutilizations:     n,
		SwapFailures:       n,
		KeeperActions:      n,
		ResponseDeviations: n,
		WithdrawsQueued:    n,
		WithdrawsClaimed:   n,
		CurrentLeverage:    g,
		TotalAssets:        g,
		WithdrawGap:        g,
	}
}
