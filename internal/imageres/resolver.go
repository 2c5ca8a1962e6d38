package imageres

import (
	"fmt"
	"sync"

	"catalog-showcase/internal/domain"
)

// DefaultFallbackURL is shown when an image cannot be loaded.
const DefaultFallbackURL = "https://via.placeholder.com/400x300?text=Imagen+no+disponible"

type State int

const (
	Idle State = iota
	Loading
	Loaded
	FailedFallback
)

var stateNames = map[State]string{
	Idle:           "idle",
	Loading:        "loading",
	Loaded:         "loaded",
	FailedFallback: "failed_fallback",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is what a renderer needs to display one image element.
type Snapshot struct {
	State        State  `json:"state"`
	CandidateURL string `json:"candidateUrl"`
	Src          string `json:"src"`
	ShowShimmer  bool   `json:"showShimmer"`
}

// Transition describes one state change of a Resolver.
type Transition struct {
	From State
	To   State
	URL  string
	Src  string
}

// Resolver tracks the loading state of a single image element. Load and
// error signals carry the URL they were raised for; signals for anything
// other than the current candidate are dropped.
type Resolver struct {
	mu           sync.Mutex
	fallbackURL  string
	state        State
	candidate    string
	src          string
	armed        bool
	onTransition func(Transition)
}

func NewResolver(fallbackURL string) *Resolver {
	if fallbackURL == "" {
		fallbackURL = DefaultFallbackURL
	}
	return &Resolver{fallbackURL: fallbackURL}
}

// OnTransition registers a hook called after every state change, outside
// the resolver's lock.
func (r *Resolver) OnTransition(fn func(Transition)) {
	r.mu.Lock()
	r.onTransition = fn
	r.mu.Unlock()
}

// Assign sets a new candidate URL. Assigning the current candidate again is
// a no-op.
func (r *Resolver) Assign(url string) Snapshot {
	r.mu.Lock()
	if url == r.candidate && r.state != Idle {
		snap := r.snapshotLocked()
		r.mu.Unlock()
		return snap
	}

	var fired []Transition
	fired = append(fired, r.moveLocked(Idle, url, ""))
	r.armed = true

	if domain.IsAbsoluteURL(url) {
		fired = append(fired, r.moveLocked(Loading, url, url))
	} else {
		r.armed = false
		fired = append(fired, r.moveLocked(FailedFallback, url, r.fallbackURL))
	}

	snap := r.snapshotLocked()
	hook := r.onTransition
	r.mu.Unlock()

	r.fire(hook, fired)
	return snap
}

// Loaded signals that url finished loading. It reports whether the signal
// changed the state.
func (r *Resolver) Loaded(url string) bool {
	r.mu.Lock()
	if url != r.candidate || r.state != Loading {
		r.mu.Unlock()
		return false
	}
	t := r.moveLocked(Loaded, url, url)
	hook := r.onTransition
	r.mu.Unlock()

	r.fire(hook, []Transition{t})
	return true
}

// Failed signals that url could not be loaded. The first failure swaps the
// source to the fallback and disarms the handler; later failures, including
// one for the fallback itself, are ignored.
func (r *Resolver) Failed(url string) bool {
	r.mu.Lock()
	if !r.armed || url != r.candidate || r.state != Loading {
		r.mu.Unlock()
		return false
	}
	r.armed = false
	t := r.moveLocked(FailedFallback, url, r.fallbackURL)
	hook := r.onTransition
	r.mu.Unlock()

	r.fire(hook, []Transition{t})
	return true
}

func (r *Resolver) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Resolver) moveLocked(to State, url, src string) Transition {
	t := Transition{From: r.state, To: to, URL: url, Src: src}
	r.state = to
	r.candidate = url
	r.src = src
	return t
}

func (r *Resolver) snapshotLocked() Snapshot {
	return Snapshot{
		State:        r.state,
		CandidateURL: r.candidate,
		Src:          r.src,
		ShowShimmer:  r.state == Loading,
	}
}

func (r *Resolver) fire(hook func(Transition), fired []Transition) {
	if hook == nil {
		return
	}
	for _, t := range fired {
		hook(t)
	}
}
