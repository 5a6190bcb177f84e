package jaccount

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// startFileWatch watches the credential file's directory and rehydrates the
// cookie jar when the file is rewritten out-of-band, e.g. by an interactive
// CLI login running in another process while the server is up.
func (m *Manager) startFileWatch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory rather than the file: the atomic save replaces the
	// file by rename, which would drop a watch on the file itself.
	if err := watcher.Add(filepath.Dir(m.store.Path())); err != nil {
		watcher.Close()
		return err
	}

	stop := make(chan struct{})
	m.watchCancel = func() {
		close(stop)
		watcher.Close()
	}

	go func() {
		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != m.store.Path() {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				m.reloadFromStore()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.log.Warn("credstore.watch.err", slog.String("err", err.Error()))
			}
		}
	}()

	return nil
}

// reloadFromStore replaces the in-memory record and jar contents with the
// persisted cookie set.
func (m *Manager) reloadFromStore() {
	cookies, err := m.store.Load()
	if err != nil {
		m.log.Warn("credstore.reload.fail", slog.String("err", err.Error()))
		return
	}
	if len(cookies) == 0 {
		return
	}

	m.mu.Lock()
	m.cookies = cookies
	m.resetJarLocked()
	m.applyCookiesLocked(cookies)
	m.mu.Unlock()

	m.log.Info("credstore.reload.ok", slog.Int("cookies", len(cookies)))
}
