package bridge

import "github.com/fako1024/cgmbridge/pkg/glucose"

// LogDelegate denotes a host delegate that merely logs all outcomes
type LogDelegate struct {
	Logger glucose.Logger
}

// OnNewData logs the forwarded samples
func (d LogDelegate) OnNewData(samples glucose.Samples) {
	for _, s := range samples {
		d.Logger.Infof("new sample: %.0f mg/dL (%s) at %s [%s]", s.Value, s.Trend, s.Date.Format("15:04:05"), s.SyncIdentifier)
	}
}

// OnNoData logs the absence of new data
func (d LogDelegate) OnNoData() {
	d.Logger.Debug("no new data")
}

// OnError logs the error
func (d LogDelegate) OnError(err error) {
	d.Logger.Errorf("failed to fetch new data: %s", err)
}

// Delegates fans out all outcomes to several delegates (in order)
type Delegates []Delegate

// OnNewData forwards the samples to all delegates
func (ds Delegates) OnNewData(samples glucose.Samples) {
	for _, d := range ds {
		d.OnNewData(samples)
	}
}

// OnNoData forwards the absence of new data to all delegates
func (ds Delegates) OnNoData() {
	for _, d := range ds {
		d.OnNoData()
	}
}

// OnError forwards the error to all delegates
func (ds Delegates) OnError(err error) {
	for _, d := range ds {
		d.OnError(err)
	}
}
