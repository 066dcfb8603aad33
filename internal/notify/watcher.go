package notify

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// RequestWatcher watches the requests directory and dispatches callbacks.
type RequestWatcher struct {
	dir      string
	callback func(Request)
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewRequestWatcher creates a watcher for {dataPath}/requests/.
func NewRequestWatcher(dataPath string, callback func(Request)) *RequestWatcher {
	return &RequestWatcher{
		dir:      filepath.Join(dataPath, "requests"),
		callback: callback,
		done:     make(chan struct{}),
	}
}

// Start begins watching. Requests written while no server was running are
// dispatched first, in file name order. Call Stop() to clean up.
func (rw *RequestWatcher) Start() error {
	if err := os.MkdirAll(rw.dir, 0o700); err != nil {
		return err
	}

	rw.drainExisting()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(rw.dir); err != nil {
		_ = w.Close()
		return err
	}
	rw.watcher = w

	go rw.loop()
	log.Printf("notify: watching %s for control requests", rw.dir)
	return nil
}

// Stop shuts down the watcher.
func (rw *RequestWatcher) Stop() {
	if rw.watcher == nil {
		return
	}
	_ = rw.watcher.Close()
	<-rw.done
}

func (rw *RequestWatcher) loop() {
	defer close(rw.done)
	for {
		select {
		case evt, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			// Send renames into place, which reports as Create on the target.
			if evt.Op&(fsnotify.Create|fsnotify.Rename) != 0 && strings.HasSuffix(evt.Name, ".request") {
				rw.processFile(evt.Name)
			}
		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("notify: watcher error: %v", err)
		}
	}
}

func (rw *RequestWatcher) drainExisting() {
	entries, err := os.ReadDir(rw.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".request") {
			rw.processFile(filepath.Join(rw.dir, entry.Name()))
		}
	}
}

func (rw *RequestWatcher) processFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // file already consumed
	}
	_ = os.Remove(path)

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("notify: invalid request file %s: %v", filepath.Base(path), err)
		return
	}
	if err := req.Validate(); err != nil {
		log.Printf("notify: ignoring request file %s: %v", filepath.Base(path), err)
		return
	}

	if rw.callback != nil {
		rw.callback(req)
	}
}
