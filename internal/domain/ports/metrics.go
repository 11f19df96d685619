package ports

import (
	"time"

	"github.com/fredcamaral/devsync/internal/domain/entities"
)

// Metrics records server activity. Implementations must be safe for
// concurrent use.
type Metrics interface {
	ConnectionOpened(transport string)
	ConnectionClosed(transport string)
	MessageDelivered(transport string, msgType entities.MessageType)
	DeliveryFailed(transport string)
	BroadcastDuration(d time.Duration)
	CycleStarted()
	CycleSuperseded()
	CycleResolved(terminal entities.MessageType)
}

// NopMetrics discards all measurements
type NopMetrics struct{}

func (NopMetrics) ConnectionOpened(string) {}
func (NopMetrics) ConnectionClosed(string) {}
func (NopMetrics) MessageDelivered(string, entities.MessageType) {}
func (NopMetrics) DeliveryFailed(string) {}
func (NopMetrics) BroadcastDuration(time.Duration) {}
func (NopMetrics) CycleStarted() {}
func (NopMetrics) CycleSuperseded() {}
func (NopMetrics) CycleResolved(entities.MessageType) {}

var _ Metrics = NopMetrics{}