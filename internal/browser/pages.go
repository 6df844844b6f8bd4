package browser

import "sync"

// PageSet tracks the pages a browser handed out that have not been closed
// yet. Pages of concurrent cycles share one browser, so only targets outside
// the set may be closed as extraneous.
type PageSet struct {
	lock sync.Mutex
	ids  map[string]struct{}
}

func NewPageSet() *PageSet {
	return &PageSet{ids: make(map[string]struct{})}
}

func (s *PageSet) Add(id string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.ids[id] = struct{}{}
}

func (s *PageSet) Remove(id string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.ids, id)
}

func (s *PageSet) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.ids)
}

// Strays returns the ids in all that are neither self nor a live page.
func (s *PageSet) Strays(all []string, self string) []string {
	s.lock.Lock()
	defer s.lock.Unlock()

	var out []string
	for _, id := range all {
		if id == self {
			continue
		}
		if _, live := s.ids[id]; live {
			continue
		}
		out = append(out, id)
	}
	return out
}
