package model

import (
	"context"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StartWatcher monitors the model artifacts and marks the manager stale
// when any weight file is rewritten. The reload itself happens on the next
// Load call, never mid-inference.
func (m *Manager) StartWatcher(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[Models] Watcher unavailable: %v", err)
		return
	}

	for _, path := range []string{m.cfg.YOLOPath, m.cfg.PosePath, m.cfg.AnomalyPath} {
		if err := watcher.Add(path); err != nil {
			log.Printf("[Models] Watch %s failed: %v", path, err)
		}
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
					log.Printf("[Models] Artifact changed: %s, marking stale", event.Name)
					// Writers often emit bursts; a short pause avoids
					// flagging a half-written file repeatedly.
					time.Sleep(100 * time.Millisecond)
					m.markStale()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[Models] Watcher error: %v", err)
			}
		}
	}()
}
