package app

import (
	"sync"
	"time"

	"chainiq-service/internal/domain"
)

// leaderboardHub fans leaderboard snapshots out to per-quiz subscribers.
// Snapshots older than the last one delivered for a quiz are dropped, so
// concurrent refreshes never move a subscriber backwards.
type leaderboardHub struct {
	mu          sync.Mutex
	subscribers map[string]map[chan domain.Leaderboard]struct{}
	latest      map[string]time.Time
}

func newLeaderboardHub() *leaderboardHub {
	return &leaderboardHub{
		subscribers: make(map[string]map[chan domain.Leaderboard]struct{}),
		latest:      make(map[string]time.Time),
	}
}

func (h *leaderboardHub) subscribe(quizID string, initial domain.Leaderboard) (<-chan domain.Leaderboard, func()) {
	ch := make(chan domain.Leaderboard, 8)
	ch <- initial

	h.mu.Lock()
	subs, ok := h.subscribers[quizID]
	if !ok {
		subs = make(map[chan domain.Leaderboard]struct{})
		h.subscribers[quizID] = subs
	}
	subs[ch] = struct{}{}
	if initial.UpdatedAt.After(h.latest[quizID]) {
		h.latest[quizID] = initial.UpdatedAt
	}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subscribers[quizID]
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(h.subscribers, quizID)
			delete(h.latest, quizID)
		}
	}
	return ch, cancel
}

func (h *leaderboardHub) hasSubscribers(quizID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[quizID]) > 0
}

func (h *leaderboardHub) publish(lb domain.Leaderboard) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subscribers[lb.QuizID]
	if len(subs) == 0 || lb.UpdatedAt.Before(h.latest[lb.QuizID]) {
		return
	}
	h.latest[lb.QuizID] = lb.UpdatedAt
	for ch := range subs {
		select {
		case ch <- lb:
		default:
			// slow subscriber: drop the stale snapshot, keep the newest
			select {
			case <-ch:
			default:
			}
			ch <- lb
		}
	}
}

// keyedMutex serializes work per key within this process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
