package daemon

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const watchDebounce = 500 * time.Millisecond

// configWatcher triggers a reload when the config file changes. It watches
// the parent directory because editors often replace the file on save.
type configWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

func watchConfig(path string, reload func(), logger zerolog.Logger) (*configWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, err
	}

	cw := &configWatcher{watcher: w, done: make(chan struct{})}
	cw.wg.Add(1)
	go cw.loop(abs, reload, logger)
	logger.Info().Str("path", abs).Msg("watching config file")
	return cw, nil
}

func (cw *configWatcher) loop(path string, reload func(), logger zerolog.Logger) {
	defer cw.wg.Done()

	var pending <-chan time.Time
	for {
		select {
		case <-cw.done:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = time.After(watchDebounce)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("config watcher error")
		case <-pending:
			pending = nil
			logger.Info().Msg("config file changed")
			reload()
		}
	}
}

func (cw *configWatcher) Close() {
	close(cw.done)
	_ = cw.watcher.Close()
	cw.wg.Wait()
}
