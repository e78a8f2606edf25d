package gateway

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/yourorg/compliance-ledger/internal/domain"
)

// ErrRateLimited is returned when an actor exceeds its request budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// Principal is the authenticated caller of one request.
type Principal struct {
	SessionID string
	Actor     domain.Actor
	ExpiresAt time.Time
}

type session struct {
	id        string
	actorID   string
	issuedAt  time.Time
	lastSeen  time.Time
	expiresAt time.Time
}

type sessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// sessions is the server-side half of a token. A token whose session is gone
// is rejected even if its signature and exp are still valid.
type sessions struct {
	mu   sync.Mutex
	byID map[string]*session
}

func (s *sessions) put(sess *session) {
	s.mu.Lock()
	s.byID[sess.id] = sess
	s.mu.Unlock()
}

func (s *sessions) drop(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[id]
	delete(s.byID, id)
	return ok
}

// touch refreshes the idle clock of a live session. Expired sessions are
// removed and reported with ErrSessionExpired.
func (s *sessions) touch(id string, now time.Time, idle time.Duration) (session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return session{}, domain.ErrUnauthenticated
	}
	if !now.Before(sess.expiresAt) || (idle > 0 && now.Sub(sess.lastSeen) > idle) {
		delete(s.byID, id)
		return session{}, domain.ErrSessionExpired
	}
	sess.lastSeen = now
	return *sess, nil
}

// expiry is the hard end of a session started at now. Regulator sessions end
// at the earlier of the actor's own expiry and the regulator session cap.
func expiry(actor domain.Actor, now time.Time, cfg Config) time.Time {
	if actor.Role != domain.RoleRegulator {
		return now.Add(cfg.TokenTTL)
	}
	end := now.Add(cfg.RegulatorMaxSession)
	if actor.RegulatorExpiresAt != nil && actor.RegulatorExpiresAt.Before(end) {
		end = *actor.RegulatorExpiresAt
	}
	return end
}

func (g *Gateway) signToken(sess *session, actor domain.Actor) (string, error) {
	claims := sessionClaims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.id,
			Subject:   actor.ID,
			Issuer:    g.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(sess.issuedAt),
			ExpiresAt: jwt.NewNumericDate(sess.expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("gateway: sign token: %w", err)
	}
	return token, nil
}

func (g *Gateway) parseToken(raw string) (sessionClaims, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(g.cfg.Issuer),
		jwt.WithTimeFunc(g.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return claims, domain.ErrSessionExpired
	}
	if err != nil {
		return sessionClaims{}, domain.ErrUnauthenticated
	}
	return claims, nil
}

// unknownPrincipal is the limiter key shared by every login attempt for an
// actor id the directory does not know.
const unknownPrincipal = "login-unknown"

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// limiters hands out one token bucket per key. A bucket unused for idle has
// refilled completely, so it is dropped and recreated on next use.
type limiters struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	byKey     map[string]*limiterEntry
}

func newLimiters(perSecond float64, burst int) *limiters {
	l := rate.Inf
	if perSecond > 0 {
		l = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	idle := time.Minute
	if l != rate.Inf {
		if refill := time.Duration(float64(burst) / perSecond * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	return &limiters{limit: l, burst: burst, idle: idle, byKey: map[string]*limiterEntry{}}
}

func (l *limiters) allow(key string, now time.Time) bool {
	if l.limit == rate.Inf {
		return true
	}
	l.mu.Lock()
	if now.Sub(l.lastSweep) >= l.idle {
		for k, e := range l.byKey {
			if now.Sub(e.lastSeen) >= l.idle {
				delete(l.byKey, k)
			}
		}
		l.lastSweep = now
	}
	e, ok := l.byKey[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()
	return e.lim.AllowN(now, 1)
}

func (l *limiters) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKey)
}
