package browser

import (
	"context"
	"fmt"
	"sync"
)

// LaunchFunc starts a new browser process.
type LaunchFunc func(ctx context.Context) (Browser, error)

// Sessions maps logical names to running browsers. A browser is launched the
// first time its name is acquired and then lives until Close.
type Sessions struct {
	launch LaunchFunc

	lock     sync.Mutex
	browsers map[string]Browser
}

func NewSessions(launch LaunchFunc) *Sessions {
	return &Sessions{
		launch:   launch,
		browsers: make(map[string]Browser),
	}
}

// Acquire returns the browser cached under name, launching it if needed. A
// failed launch is not cached, the next call tries again.
func (s *Sessions) Acquire(ctx context.Context, name string) (Browser, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.browsers == nil {
		return nil, fmt.Errorf("sessions closed")
	}
	b, ok := s.browsers[name]
	if ok {
		return b, nil
	}

	b, err := s.launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("launch browser %q: %w", name, err)
	}
	s.browsers[name] = b
	return b, nil
}

// Close disposes every launched browser.
func (s *Sessions) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	var firstErr error
	for name, b := range s.browsers {
		err := b.Close()
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close browser %q: %w", name, err)
		}
	}
	s.browsers = nil
	return firstErr
}
