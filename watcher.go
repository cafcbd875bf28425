package psychics

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads a manager when bundles or concept templates change.
// Bursts of events are coalesced: the reload runs once the directories have
// been quiet for the debounce interval.
type Watcher struct {
	manager  *Manager
	fs       *fsnotify.Watcher
	debounce time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once

	// reloaded is signalled after every reload; used by tests.
	reloaded chan *Report
}

// newWatcher watches the manager's abilities and psychics directories.
func newWatcher(m *Manager, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{m.cfg.AbilitiesDir, m.cfg.PsychicsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = fw.Close()
			return nil, err
		}
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return nil, err
		}
	}
	return &Watcher{
		manager:  m,
		fs:       fw,
		debounce: max(debounce, 0),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		reloaded: make(chan *Report, 1),
	}, nil
}

// Start begins watching.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop stops watching and waits for a pending reload to finish.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stopCh)
		<-w.doneCh
		_ = w.fs.Close()
	})
}

func (w *Watcher) loop() {
	defer close(w.doneCh)

	log := w.manager.log
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	for {
		select {
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			log.Debug("psychics: change detected", zap.String("file", event.Name), zap.Stringer("op", event.Op))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerCh = timer.C

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warn("psychics: watcher error", zap.Error(err))

		case <-timerCh:
			timerCh = nil
			report := w.manager.Reload()
			if !report.OK() {
				log.Warn("psychics: reload finished with failures", zap.Error(report.Err()))
			}
			select {
			case w.reloaded <- report:
			default:
			}
		}
	}
}

// relevant reports whether an event touches a bundle or template.
func relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	ext := strings.ToLower(filepath.Ext(event.Name))
	return ext == BundleExt || ext == ConceptExt
}
