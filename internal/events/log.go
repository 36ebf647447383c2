package events

import (
	"github.com/mthorpe/conveyor/internal/logging"
)

// LogAll subscribes to the bus and mirrors every event onto the structured
// log, so a supervising process leaves a trace of phase changes, coordinator
// decisions, and retries without each component logging twice. The returned
// stop function unsubscribes and waits for the drain goroutine to exit.
func LogAll(bus *Bus, log *logging.Logger) func() {
	ch, cancel := bus.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for e := range ch {
			fields := map[string]interface{}{
				"type": string(e.Type),
				"run":  e.RunID,
			}
			for k, v := range e.Fields {
				fields[k] = v
			}
			log.Info(e.Name, fields)
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
