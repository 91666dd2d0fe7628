// Package frontier holds the per-crawl queue and visited set.
package frontier

// State is the mutable bookkeeping for one crawl. It is not safe for
// concurrent use; a crawl drains its frontier sequentially.
type State struct {
	queue    []string
	visited  map[string]struct{}
	attempts int
}

// New returns a State with seed enqueued.
func New(seed string) *State {
	return &State{
		queue:   []string{seed},
		visited: make(map[string]struct{}),
	}
}

// Reseed replaces the queue with urls. The visited set is kept.
func (s *State) Reseed(urls []string) {
	s.queue = append(s.queue[:0], urls...)
}

// Push appends url to the tail. Duplicates are allowed and filtered at Pop.
func (s *State) Push(url string) {
	s.queue = append(s.queue, url)
}

// Pop removes and returns the head of the queue, skipping visited entries.
func (s *State) Pop() (string, bool) {
	for len(s.queue) > 0 {
		url := s.queue[0]
		s.queue[0] = ""
		s.queue = s.queue[1:]
		if !s.IsVisited(url) {
			return url, true
		}
	}
	return "", false
}

// MarkVisited records url as done, whether it succeeded or not.
func (s *State) MarkVisited(url string) {
	s.visited[url] = struct{}{}
}

// IsVisited reports whether url has already been popped and processed.
func (s *State) IsVisited(url string) bool {
	_, ok := s.visited[url]
	return ok
}

// Attempt counts one fetch attempt and returns the new total.
func (s *State) Attempt() int {
	s.attempts++
	return s.attempts
}

// Attempts returns the number of fetch attempts so far.
func (s *State) Attempts() int { return s.attempts }

// Visited returns the number of visited URLs.
func (s *State) Visited() int { return len(s.visited) }

// Len returns the number of queued entries, including stale duplicates.
func (s *State) Len() int { return len(s.queue) }
