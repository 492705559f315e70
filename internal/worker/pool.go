package worker

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/horus-bot/firstAId-chat-bot-api/internal/metrics"
)

// purgeIdleWorkers calls retireIdle every idle period until Stop.
func (m *Manager) purgeIdleWorkers() {
	ticker := time.NewTicker(m.idle)
	defer ticker.Stop()
	for {
		select {
		case <-m.quit:
			return
		case <-ticker.C:
			if n := m.retireIdle(m.now()); n > 0 {
				log.Debug().Int("retired", n).Msg("idle session workers retired")
			}
		}
	}
}

// retireIdle stops workers with nothing queued that have been idle for the
// full timeout. A worker is removed from the map before its stop channel is
// closed, so no task can be queued to it afterwards.
func (m *Manager) retireIdle(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	retired := 0
	for id, w := range m.workers {
		if !w.idle(now, m.idle) {
			continue
		}
		delete(m.workers, id)
		close(w.stopCh)
		retired++
	}
	if retired > 0 {
		metrics.SetActiveWorkers(len(m.workers))
	}
	return retired
}
