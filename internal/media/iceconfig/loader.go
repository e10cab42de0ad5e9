// Package iceconfig loads the STUN/TURN server list used for new peer
// connections from a YAML file and keeps it current while the file changes.
package iceconfig

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pion/webrtc/v4"
	"gopkg.in/yaml.v3"
)

// File is the on-disk layout:
//
//	ice_servers:
//	  - urls: ["stun:stun.example.org:3478"]
//	  - urls: ["turn:turn.example.org:3478?transport=udp"]
//	    username: alice
//	    credential: secret
type File struct {
	ICEServers []Server `yaml:"ice_servers"`
}

// Server is one ICE server entry.
type Server struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

// Loader holds the current ICE server list.
type Loader struct {
	path     string
	fallback []webrtc.ICEServer

	mu      sync.RWMutex
	servers []webrtc.ICEServer
}

// NewLoader returns a loader for path. Until a file has been loaded, and
// always when path is empty, Servers returns fallback.
func NewLoader(path string, fallback []webrtc.ICEServer) *Loader {
	return &Loader{path: path, fallback: fallback, servers: fallback}
}

// Path returns the watched file, or "" when the loader is fallback-only.
func (l *Loader) Path() string { return l.path }

// Servers returns a copy of the current list.
func (l *Loader) Servers() []webrtc.ICEServer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]webrtc.ICEServer, len(l.servers))
	copy(out, l.servers)
	return out
}

// Load reads and validates the file. On error the current list is kept.
func (l *Loader) Load() error {
	if l.path == "" {
		return nil
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read ice server file %q: %w", l.path, err)
	}

	servers, err := Parse(data)
	if err != nil {
		return fmt.Errorf("load %q: %w", l.path, err)
	}

	l.mu.Lock()
	l.servers = servers
	l.mu.Unlock()
	return nil
}

// Parse decodes and validates an ICE server file.
func Parse(data []byte) ([]webrtc.ICEServer, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	servers := make([]webrtc.ICEServer, 0, len(f.ICEServers))
	for i, s := range f.ICEServers {
		if len(s.URLs) == 0 {
			return nil, fmt.Errorf("ice_servers[%d]: no urls", i)
		}
		srv := webrtc.ICEServer{URLs: s.URLs}
		for _, u := range s.URLs {
			if !strings.HasPrefix(u, "stun:") && !strings.HasPrefix(u, "stuns:") &&
				!strings.HasPrefix(u, "turn:") && !strings.HasPrefix(u, "turns:") {
				return nil, fmt.Errorf("ice_servers[%d]: unsupported url %q", i, u)
			}
			if strings.HasPrefix(u, "turn") && s.Username == "" {
				return nil, fmt.Errorf("ice_servers[%d]: turn server %q needs a username", i, u)
			}
		}
		if s.Username != "" {
			srv.Username = s.Username
			srv.Credential = s.Credential
			srv.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, srv)
	}
	return servers, nil
}

// WatchAndReload reloads the file whenever it is written or replaced.
// The parent directory is watched so editors that rename over the file
// are seen. It blocks until done is closed.
func (l *Loader) WatchAndReload(done <-chan struct{}) error {
	if l.path == "" {
		<-done
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch dir %q: %w", dir, err)
	}

	name := filepath.Clean(l.path)
	for {
		select {
		case <-done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := l.Load(); err != nil {
				slog.Warn("ice server reload failed, keeping previous list",
					slog.String("path", l.path), slog.String("error", err.Error()))
				continue
			}
			slog.Info("ice servers reloaded", slog.String("path", l.path), slog.Int("count", len(l.Servers())))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
