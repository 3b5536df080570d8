// Package identity tracks the shopper's authentication state and owns the
// session cookie jar every backend request is sent with.
package identity

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"storefront-cart/internal/model"
)

// TransitionKind names an authentication state change.
type TransitionKind string

const (
	TransitionLogin  TransitionKind = "login"
	TransitionLogout TransitionKind = "logout"
	TransitionExpire TransitionKind = "expire"
)

// Transition is delivered to listeners after the session state changed.
// Identity is the one that logged in, or the one that just ended.
type Transition struct {
	Kind     TransitionKind
	Identity model.Identity
}

// Session is the in-process authentication state. It implements
// http.CookieJar so the http.Client shared by storeapi, catalog and the auth
// client carries the session cookie, and resetting the session drops it.
type Session struct {
	mu        sync.RWMutex
	jar       *cookiejar.Jar
	token     string
	identity  *model.Identity
	listeners []func(Transition)
}

// NewSession returns an unauthenticated session with an empty jar.
func NewSession() *Session {
	return &Session{jar: newJar()}
}

func newJar() *cookiejar.Jar {
	// Only fails for a non-nil Options with a broken PublicSuffixList
	jar, _ := cookiejar.New(nil)
	return jar
}

// SetCookies implements http.CookieJar.
func (s *Session) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.mu.RLock()
	jar := s.jar
	s.mu.RUnlock()
	jar.SetCookies(u, cookies)
}

// Cookies implements http.CookieJar.
func (s *Session) Cookies(u *url.URL) []*http.Cookie {
	s.mu.RLock()
	jar := s.jar
	s.mu.RUnlock()
	return jar.Cookies(u)
}

// Token returns the bearer token issued at login, or "".
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Identity returns the authenticated identity.
func (s *Session) Identity() (model.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return model.Identity{}, false
	}
	return *s.identity, true
}

// IsAuthenticated reports whether a login is in effect.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity != nil
}

// OnTransition registers fn to run after every state change.
// Listeners run synchronously on the goroutine that caused the change.
func (s *Session) OnTransition(fn func(Transition)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Establish records a successful login. Cookies set by the login response
// are already in the jar.
func (s *Session) Establish(id model.Identity, token string) {
	s.mu.Lock()
	s.identity = &id
	s.token = token
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, Transition{Kind: TransitionLogin, Identity: id})
}

// End clears the session after an explicit logout.
func (s *Session) End() {
	s.reset(TransitionLogout)
}

// Invalidate clears the session after the backend rejected it.
// No-op when already unauthenticated.
func (s *Session) Invalidate() {
	s.reset(TransitionExpire)
}

func (s *Session) reset(kind TransitionKind) {
	s.mu.Lock()
	prev := s.identity
	s.identity = nil
	s.token = ""
	s.jar = newJar()
	listeners := s.listeners
	s.mu.Unlock()

	if prev == nil {
		return
	}
	notify(listeners, Transition{Kind: kind, Identity: *prev})
}

func notify(listeners []func(Transition), t Transition) {
	for _, fn := range listeners {
		fn(t)
	}
}

// Compile-time interface check
var _ http.CookieJar = (*Session)(nil)
