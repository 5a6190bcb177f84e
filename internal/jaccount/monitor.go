package jaccount

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// StartMonitor launches the background session monitor. The loop wakes every
// wakeInterval but only performs a remote liveness check once checkInterval
// has elapsed since the previous one, so shutdown stays prompt without
// hammering the remote system. On a detected logout the callback is invoked;
// on a confirmed live session a keep-alive request is issued. A second start
// while a monitor is running is a no-op.
func (m *Manager) StartMonitor(onLogout func()) {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()

	if m.monitorStop != nil {
		m.log.Info("monitor.already_running")
		return
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	m.monitorStop = stop
	m.monitorDone = done

	go m.monitorLoop(stop, done, onLogout)
	m.log.Info("monitor.start")
}

// StopMonitor signals the monitor loop to stop and waits for it with a
// bounded timeout. Stopping an idle manager is a no-op.
func (m *Manager) StopMonitor() {
	m.monitorMu.Lock()
	stop := m.monitorStop
	done := m.monitorDone
	m.monitorStop = nil
	m.monitorDone = nil
	m.monitorMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)

	select {
	case <-done:
		m.log.Info("monitor.stop")
	case <-time.After(monitorStopTimeout):
		m.log.Warn("monitor.stop.timeout")
	}
}

func (m *Manager) monitorLoop(stop <-chan struct{}, done chan<- struct{}, onLogout func()) {
	defer close(done)

	ticker := time.NewTicker(m.wakeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if time.Since(m.lastCheck) < m.checkInterval {
			continue
		}
		m.lastCheck = time.Now()

		ctx, cancel := context.WithTimeout(context.Background(), m.httpTimeout)
		live := m.IsLoggedIn(ctx)
		cancel()

		if !live {
			m.log.Warn("monitor.session.expired")
			if onLogout != nil {
				m.invokeLogoutCallback(onLogout)
			}
			continue
		}

		m.keepAlive()
	}
}

// invokeLogoutCallback runs the re-login callback, swallowing anything it
// raises so the monitor loop never dies.
func (m *Manager) invokeLogoutCallback(onLogout func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("monitor.callback.panic", slog.Any("panic", r))
		}
	}()
	onLogout()
}

// keepAlive issues one lightweight authenticated request to keep the remote
// session warm.
func (m *Manager) keepAlive() {
	ctx, cancel := context.WithTimeout(context.Background(), m.httpTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.ep.CheckURL, nil)
	if err != nil {
		return
	}
	req.Header.Set("User-Agent", userAgent)

	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	resp, err := client.Do(req)
	if err != nil {
		m.log.Warn("monitor.keepalive.fail", slog.String("err", err.Error()))
		return
	}
	resp.Body.Close()
	m.log.Debug("monitor.keepalive.ok")
}
