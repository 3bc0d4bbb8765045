package application

import "time"

// Observer receives coordinator events for metrics. A nil Observer passed to
// a constructor is replaced with a no-op.
type Observer interface {
	ObserveTick(outcome string, d time.Duration)
	ObserveRecordUpdated()
	ObserveNotification(result string)
}

type nopObserver struct{}

func (nopObserver) ObserveTick(string, time.Duration) {}
func (nopObserver) ObserveRecordUpdated()             {}
func (nopObserver) ObserveNotification(string)        {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}
