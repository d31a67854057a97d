package config

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// settleTime lets editors finish writing before the file is re-read.
const settleTime = time.Second / 10

var (
	gLock      sync.RWMutex
	gConfig    *Config
	gListeners []func(old, new *Config)
)

// FromFile reads a JSON document on top of Default.
func FromFile(path string) (*Config, error) {
	config := Default()
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	p := json.NewDecoder(f)
	p.DisallowUnknownFields()
	if err := p.Decode(config); err != nil {
		return nil, err
	}
	config.Normalize()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	log.Debugf("Loaded configuration: %v", spew.Sdump(config))
	return config, nil
}

// Get returns the most recently loaded configuration.
func Get() *Config {
	gLock.RLock()
	defer gLock.RUnlock()
	return gConfig
}

// OnChange registers f to run after every successful reload.
func OnChange(f func(old, new *Config)) {
	gLock.Lock()
	defer gLock.Unlock()
	gListeners = append(gListeners, f)
}

func set(config *Config) {
	gLock.Lock()
	old := gConfig
	gConfig = config
	listeners := append([]func(old, new *Config){}, gListeners...)
	gLock.Unlock()

	if old == nil {
		return
	}
	for _, f := range listeners {
		f(old, config)
	}
}

func waitForChange(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-watcher.Errors:
		return err
	case <-watcher.Events:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(settleTime):
	}
	return ctx.Err()
}

// Load reads path and keeps reloading it whenever it changes until ctx is
// cancelled. A document that fails to parse or validate is logged and the
// previous configuration stays in effect.
func Load(ctx context.Context, path string) error {
	config, err := FromFile(path)
	if err != nil {
		return err
	}
	set(config)
	log.Infof("Loaded configuration from %v", path)
	go func() {
		for ctx.Err() == nil {
			if err := waitForChange(ctx, path); err != nil {
				if ctx.Err() == nil {
					log.Errorf("Error waiting for file change: %v", err)
					time.Sleep(time.Second)
				}
				continue
			}

			config, err := FromFile(path)
			if err != nil {
				log.Errorf("Failed to load new config: %v", err)
				continue
			}
			log.Infof("Reloaded configuration from %v", path)
			set(config)
		}
	}()
	return nil
}
