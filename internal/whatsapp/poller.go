package whatsapp

import (
	"context"
	"time"
)

// startPollerLocked launches a new poller generation. Callers hold m.mu.
func (m *Manager) startPollerLocked() uint64 {
	m.stopPollerLocked()
	gen := m.generation
	ctx, cancel := context.WithCancel(m.rootCtx)
	m.cancelPoll = cancel
	m.pollers.Add(1)
	go func() {
		defer m.pollers.Done()
		defer cancel()
		m.poll(ctx, gen)
	}()
	return gen
}

// stopPollerLocked cancels the active poller and bumps the generation so any
// in-flight tick from it is discarded. Callers hold m.mu.
func (m *Manager) stopPollerLocked() {
	if m.cancelPoll != nil {
		m.cancelPoll()
		m.cancelPoll = nil
	}
	m.generation++
}

// applyIfCurrent runs fn under the lock only when gen is still the active
// poller generation.
func (m *Manager) applyIfCurrent(gen uint64, fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return false
	}
	fn()
	return true
}

func (m *Manager) poll(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	logger := m.logger.With("instance", m.instance, "generation", gen)
	logger.Info("whatsapp connection poller started", "interval", m.pollInterval.String(), "attempts", m.pollAttempts)

	for attempt := 1; attempt <= m.pollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			logger.Debug("whatsapp connection poller cancelled", "attempt", attempt)
			return
		case <-ticker.C:
		}

		stateCtx, cancel := context.WithTimeout(ctx, m.stateTimeout)
		resp, err := m.gateway.ConnectionState(stateCtx, m.instance)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.metrics.ObservePollTick("error")
			logger.Warn("whatsapp poll check failed", "attempt", attempt, "error", err)
			continue
		}
		if !resp.IsOpen() {
			m.metrics.ObservePollTick("pending")
			continue
		}

		m.metrics.ObservePollTick("open")
		applied := m.applyIfCurrent(gen, func() {
			m.cancelPoll = nil
			m.transitionLocked(StatusConnected, "Connected and ready to send messages", "")
		})
		if !applied {
			logger.Debug("whatsapp stale poll result discarded", "attempt", attempt)
			return
		}
		logger.Info("whatsapp reconnected", "attempt", attempt)
		if err := m.registerWebhook(ctx); err != nil {
			logger.Warn("whatsapp webhook registration failed", "error", err)
		}
		return
	}

	m.applyIfCurrent(gen, func() {
		m.cancelPoll = nil
		if m.state.status == StatusConnected {
			return
		}
		m.transitionLocked(StatusTimeout, "Timed out waiting for the connection", "")
		logger.Warn("whatsapp connection poller timed out", "attempts", m.pollAttempts)
	})
}
