package credential

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Submitter is the slice of the coordinator the watcher needs.
type Submitter interface {
	SubmitCredentials(creds []Credential)
}

const watchDebounce = 500 * time.Millisecond

// Watcher submits credential files dropped into a directory at runtime.
// Duplicate submissions are harmless: onboarding ends in an upsert keyed
// by project_id.
type Watcher struct {
	dir  string
	sink Submitter
}

// NewWatcher watches dir and submits new *.json files to sink.
func NewWatcher(dir string, sink Submitter) *Watcher {
	return &Watcher{dir: dir, sink: sink}
}

// Run blocks until ctx is cancelled. File events are debounced so that
// editors doing remove-then-create dances trigger a single reload.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return err
	}
	log.WithField("path", w.dir).Info("watching credential directory")

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerCh <-chan time.Time

	arm := func() {
		if timer == nil {
			timer = time.NewTimer(watchDebounce)
			timerCh = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(watchDebounce)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isJSONFile(evt.Name) {
				continue
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			pending[evt.Name] = struct{}{}
			arm()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("credential watcher error")
		case <-timerCh:
			w.flush(pending)
			pending = make(map[string]struct{})
		}
	}
}

func (w *Watcher) flush(pending map[string]struct{}) {
	var creds []Credential
	for path := range pending {
		cred, err := loadFile(path)
		if err != nil {
			log.WithField("path", path).WithError(err).Warn("skipping unreadable credential file")
			continue
		}
		creds = append(creds, cred)
	}
	if len(creds) == 0 {
		return
	}
	log.WithField("count", len(creds)).Info("submitting credentials from watched directory")
	w.sink.SubmitCredentials(creds)
}
