package session

import (
	"slices"
	"sync"
	"time"
)

// State is the position of a tab in the authentication state machine.
type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
	Restoring
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Restoring:
		return "restoring"
	default:
		return "unknown"
	}
}

// SessionSummary describes one stored record as seen from a given tab.
type SessionSummary struct {
	SessionID string
	User      *User
	Role      string
	CreatedAt time.Time
	IsCurrent bool
}

// Projection is the read-only auth state of a tab. Every value handed out is
// a copy; mutating it has no effect on the Manager.
type Projection struct {
	State             State
	User              *User
	SessionID         string
	Token             string
	RefreshToken      string
	IsAuthenticated   bool
	Initialized       bool
	Loading           bool
	Persisted         bool
	Error             error
	AvailableSessions []SessionSummary
}

// snapshot is everything a Projection is derived from.
type snapshot struct {
	state       State
	current     *Record
	persisted   bool
	initialized bool
	err         error
	sessions    []SessionSummary
}

func project(s snapshot) Projection {
	p := Projection{
		State:             s.state,
		Initialized:       s.initialized,
		Loading:           s.state == Authenticating || s.state == Restoring,
		Error:             s.err,
		AvailableSessions: cloneSummaries(s.sessions),
	}
	if s.current != nil {
		p.User = s.current.User.Clone()
		p.SessionID = s.current.SessionID
		p.Token = s.current.AccessToken
		p.RefreshToken = s.current.RefreshToken
		p.Persisted = s.persisted
		p.IsAuthenticated = s.state == Authenticated
	}
	return p
}

func cloneSummaries(in []SessionSummary) []SessionSummary {
	if in == nil {
		return nil
	}
	out := slices.Clone(in)
	for i := range out {
		out[i].User = out[i].User.Clone()
	}
	return out
}

func (p Projection) clone() Projection {
	p.User = p.User.Clone()
	p.AvailableSessions = cloneSummaries(p.AvailableSessions)
	return p
}

// subscribers is the observer list a Manager publishes projections to.
type subscribers struct {
	mu     sync.Mutex
	fns    map[int]func(Projection)
	nextID int
}

func (s *subscribers) add(fn func(Projection)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(Projection))
	}
	id := s.nextID
	s.nextID++
	s.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.fns, id)
		})
	}
}

func (s *subscribers) publish(p Projection) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.fns))
	for id := range s.fns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Projection), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.fns[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(p.clone())
	}
}
