package xscraper

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CredentialStatus is one pool entry's state snapshot with the token masked.
type CredentialStatus struct {
	Token         string    `json:"token"`
	RequestCount  int       `json:"request_count"`
	FailureCount  int       `json:"failure_count"`
	Disabled      bool      `json:"disabled"`
	CoolingDown   bool      `json:"cooling_down"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

type poolEntry struct {
	cred          Credential
	cooldownUntil time.Time
	lastUsed      time.Time
	requestCount  int
	failureCount  int
	disabled      bool
}

// Pool rotates credentials, skipping entries that are cooling down or
// disabled. When every usable credential is cooling down, Get blocks until
// the earliest cooldown expires.
type Pool struct {
	mu      sync.Mutex
	entries []*poolEntry
	logger  *slog.Logger
	now     func() time.Time
}

// NewPool builds a pool over the given credentials.
func NewPool(creds []Credential) *Pool {
	p := &Pool{
		logger: slog.With("component", "credential_pool"),
		now:    time.Now,
	}
	for _, c := range creds {
		p.entries = append(p.entries, &poolEntry{cred: c})
	}
	return p
}

// Len returns the number of credentials in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Get returns the next usable credential, preferring the entry with the
// fewest failures and breaking ties by least recent use. It blocks while all
// non-disabled credentials are cooling down and fails once every credential
// is disabled.
func (p *Pool) Get(ctx context.Context) (Credential, error) {
	for {
		cred, wait, err := p.tryAcquire()
		if err != nil {
			return Credential{}, err
		}
		if wait == 0 {
			return cred, nil
		}

		p.logger.Info("All credentials cooling down, waiting", "wait", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Credential{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAcquire picks a credential or reports how long until one frees up.
func (p *Pool) tryAcquire() (Credential, time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) == 0 {
		return Credential{}, 0, ErrNoCredentials
	}

	now := p.now()
	var best *poolEntry
	var earliest time.Time
	allDisabled := true

	for _, e := range p.entries {
		if e.disabled {
			continue
		}
		allDisabled = false
		if now.Before(e.cooldownUntil) {
			if earliest.IsZero() || e.cooldownUntil.Before(earliest) {
				earliest = e.cooldownUntil
			}
			continue
		}
		if best == nil ||
			e.failureCount < best.failureCount ||
			(e.failureCount == best.failureCount && e.lastUsed.Before(best.lastUsed)) {
			best = e
		}
	}

	if allDisabled {
		return Credential{}, 0, ErrAllCredentialsDisabled
	}
	if best == nil {
		return Credential{}, earliest.Sub(now), nil
	}

	best.lastUsed = now
	best.requestCount++
	return best.cred, 0, nil
}

// ReportSuccess decrements the credential's failure count, floored at zero,
// so a recovering credential regains selection weight gradually.
func (p *Pool) ReportSuccess(cred Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e := p.find(cred); e != nil && e.failureCount > 0 {
		e.failureCount--
	}
}

// ReportRateLimit puts the credential on cooldown for the given duration.
func (p *Pool) ReportRateLimit(cred Credential, retryAfter time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.find(cred)
	if e == nil {
		return
	}
	e.failureCount++
	e.cooldownUntil = p.now().Add(retryAfter)
	p.logger.Warn("Credential rate limited",
		"token", e.cred.masked(),
		"cooldown_until", e.cooldownUntil.Format(time.RFC3339))
}

// ReportAuthFailure disables the credential permanently for this run.
func (p *Pool) ReportAuthFailure(cred Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.find(cred)
	if e == nil {
		return
	}
	e.failureCount++
	e.disabled = true
	p.logger.Error("Credential disabled after authentication failure",
		"token", e.cred.masked())
}

// ReportFailure counts a transient failure without cooling down.
func (p *Pool) ReportFailure(cred Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e := p.find(cred); e != nil {
		e.failureCount++
	}
}

// Status returns a snapshot of every entry with tokens masked.
func (p *Pool) Status() []CredentialStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	out := make([]CredentialStatus, 0, len(p.entries))
	for _, e := range p.entries {
		st := CredentialStatus{
			Token:        e.cred.masked(),
			RequestCount: e.requestCount,
			FailureCount: e.failureCount,
			Disabled:     e.disabled,
			CoolingDown:  now.Before(e.cooldownUntil),
		}
		if st.CoolingDown {
			st.CooldownUntil = e.cooldownUntil
		}
		out = append(out, st)
	}
	return out
}

func (p *Pool) find(cred Credential) *poolEntry {
	for _, e := range p.entries {
		if e.cred.AuthToken == cred.AuthToken {
			return e
		}
	}
	return nil
}
