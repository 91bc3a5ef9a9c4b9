package config

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Store holds the live tunables and reloads them when the file changes.
// Reload only swaps tunables; endpoints and secrets are environment-only
// and require a restart.
type Store struct {
	path   string
	logger *logrus.Logger

	current  atomic.Value // File
	mtime    time.Time
	mu       sync.Mutex
	onReload func(File)

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewStore(path string, logger *logrus.Logger) (*Store, error) {
	f, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, logger: logger, stop: make(chan struct{})}
	s.current.Store(f)
	if st, err := os.Stat(path); err == nil {
		s.mtime = st.ModTime()
	}
	return s, nil
}

// OnReload registers a callback invoked after each successful reload.
// Set it before StartWatcher.
func (s *Store) OnReload(fn func(File)) {
	s.onReload = fn
}

// Current returns the live tunables snapshot.
func (s *Store) Current() File {
	return s.current.Load().(File)
}

// StartWatcher begins watching the file. fsnotify drives reloads; a slow
// polling loop backstops platforms where the watch silently drops.
func (s *Store) StartWatcher() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.WithError(err).Warn("config watcher unavailable, polling only")
		watcher = nil
	} else if err := watcher.Add(s.path); err != nil {
		s.logger.WithError(err).WithField("path", s.path).Warn("cannot watch config file, polling only")
		watcher.Close()
		watcher = nil
	}

	if watcher != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer watcher.Close()
			for {
				select {
				case <-s.stop:
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
						// Editors often fire a burst of events per save.
						time.Sleep(100 * time.Millisecond)
						s.reload()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					s.logger.WithError(err).Warn("config watcher error")
				}
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.reloadIfChanged()
			}
		}
	}()
}

func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Store) reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := Load(s.path)
	if err != nil {
		s.logger.WithError(err).Error("config reload failed, keeping previous tunables")
		return
	}
	s.current.Store(f)
	if st, err := os.Stat(s.path); err == nil {
		s.mtime = st.ModTime()
	}
	s.logger.Info("config reloaded")
	if s.onReload != nil {
		s.onReload(f)
	}
}

// reloadIfChanged compares mtimes so the polling loop does not spam
// reload logs every minute.
func (s *Store) reloadIfChanged() {
	st, err := os.Stat(s.path)
	if err != nil {
		return
	}
	s.mu.Lock()
	changed := st.ModTime().After(s.mtime)
	s.mu.Unlock()
	if changed {
		s.reload()
	}
}
