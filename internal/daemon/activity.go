package daemon

import (
	"sync"

	"github.com/matheus3301/messenger/internal/bus"
	"go.uber.org/zap"
)

var activityNamespaces = []string{"chat.", "media.", "session."}

// activityLog writes domain events from the bus to the daemon log.
type activityLog struct {
	bus    *bus.Bus
	logger *zap.Logger
	stop   chan struct{}
	wg     sync.WaitGroup
}

func newActivityLog(b *bus.Bus, logger *zap.Logger) *activityLog {
	return &activityLog{bus: b, logger: logger.Named("activity")}
}

func (a *activityLog) Start() {
	a.stop = make(chan struct{})
	for _, ns := range activityNamespaces {
		ch, unsub := a.bus.Subscribe(ns, 64)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			defer unsub()
			for {
				select {
				case <-a.stop:
					return
				case evt := <-ch:
					a.logger.Info(evt.Kind, zap.Time("at", evt.Timestamp), zap.Any("payload", evt.Payload))
				}
			}
		}()
	}
}

func (a *activityLog) Stop() {
	if a.stop == nil {
		return
	}
	close(a.stop)
	a.wg.Wait()
	a.stop = nil
}
