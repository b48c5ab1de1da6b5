// Package privacy resolves, persists and invalidates the zero-knowledge
// payload used by balance-hiding trades.
package privacy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"tradeflow/pkg/txerror"
	"tradeflow/pkg/types"
)

// DefaultMinNoteAge is the mixing window applied to v3 notes without an explicit spendable time
const DefaultMinNoteAge = 10 * time.Minute

// Verifier identifies the proof system checking a payload
type Verifier string

const (
	VerifierGaraga    Verifier = "garaga"
	VerifierTongo     Verifier = "tongo"
	VerifierSemaphore Verifier = "semaphore"
)

// ParseVerifier maps a configured name to a Verifier; empty selects garaga
func ParseVerifier(raw string) (Verifier, error) {
	switch v := Verifier(strings.ToLower(strings.TrimSpace(raw))); v {
	case "":
		return VerifierGaraga, nil
	case VerifierGaraga, VerifierTongo, VerifierSemaphore:
		return v, nil
	default:
		return "", fmt.Errorf("unsupported privacy verifier: %s", raw)
	}
}

var ErrNoPayload = errors.New("no privacy payload available")

// MixingWindowError reports that a v3 note may not be spent yet
type MixingWindowError struct {
	Remaining time.Duration
}

func (e *MixingWindowError) Error() string {
	return fmt.Sprintf("mixing window still open: note is spendable in %s", e.Remaining.Round(time.Second))
}

// Prover generates fresh payloads
type Prover interface {
	AutoSubmitPrivacyAction(ctx context.Context, req types.PrivacyActionRequest) (*types.PrivacyActionResponse, error)
}

// Store persists the current payload. Load returns nil, nil when nothing is stored.
type Store interface {
	Load(ctx context.Context) (*types.PrivacyPayload, error)
	Save(ctx context.Context, p *types.PrivacyPayload) error
	Clear(ctx context.Context) error
}

// Manager owns the session's privacy payload
type Manager struct {
	prover     Prover
	store      Store
	verifier   Verifier
	minNoteAge time.Duration
	timeout    time.Duration
	now        func() time.Time
	logger     *zap.Logger

	group singleflight.Group
}

// Option configures a Manager
type Option func(*Manager)

func WithVerifier(v Verifier) Option {
	return func(m *Manager) {
		if v != "" {
			m.verifier = v
		}
	}
}

func WithMinNoteAge(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.minNoteAge = d
		}
	}
}

func WithResolveTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a manager
func NewManager(prover Prover, store Store, opts ...Option) *Manager {
	m := &Manager{
		prover:     prover,
		store:      store,
		verifier:   VerifierGaraga,
		minNoteAge: DefaultMinNoteAge,
		timeout:    2 * time.Minute,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Verifier returns the configured verifier
func (m *Manager) Verifier() Verifier {
	return m.verifier
}

// Current returns the persisted payload if it is usable
func (m *Manager) Current(ctx context.Context) (*types.PrivacyPayload, bool) {
	p := m.load(ctx)
	if p == nil {
		return nil, false
	}
	if err := p.Usable(); err != nil {
		m.logger.Warn("discarding unusable privacy payload", zap.Error(err))
		if clearErr := m.Clear(ctx); clearErr != nil {
			m.logger.Warn("failed to clear privacy payload", zap.Error(clearErr))
		}
		return nil, false
	}
	return p, true
}

// load reads the store, degrading every failure to "no payload"
func (m *Manager) load(ctx context.Context) *types.PrivacyPayload {
	if m.store == nil {
		return nil
	}
	p, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Warn("discarding unreadable privacy payload", zap.Error(err))
		if clearErr := m.store.Clear(ctx); clearErr != nil {
			m.logger.Warn("failed to clear unreadable privacy payload", zap.Error(clearErr))
		}
		return nil
	}
	return p
}

// Resolve returns a usable payload, generating one when none is persisted.
// Concurrent callers share a single in-flight generation.
func (m *Manager) Resolve(ctx context.Context, req types.PrivacyActionRequest) (*types.PrivacyPayload, error) {
	if p, ok := m.Current(ctx); ok {
		return p, nil
	}

	ch := m.group.DoChan("resolve", func() (any, error) {
		// shared by every waiter, so it must outlive any single caller
		genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()
		return m.generate(genCtx, req)
	})

	select {
	case <-ctx.Done():
		return nil, txerror.New(txerror.KindPrivacy, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*types.PrivacyPayload), nil
	}
}

func (m *Manager) generate(ctx context.Context, req types.PrivacyActionRequest) (*types.PrivacyPayload, error) {
	// a waiter may have lost the race with a generation that just finished
	if p, ok := m.Current(ctx); ok {
		return p, nil
	}
	if m.prover == nil {
		return nil, txerror.New(txerror.KindPrivacy, ErrNoPayload)
	}
	if req.Verifier == "" {
		req.Verifier = string(m.verifier)
	}

	m.logger.Info("requesting privacy payload",
		zap.String("verifier", req.Verifier),
		zap.String("from", req.FromToken),
		zap.String("to", req.ToToken))

	resp, err := m.prover.AutoSubmitPrivacyAction(ctx, req)
	if err != nil {
		return nil, txerror.New(txerror.KindPrivacy, fmt.Errorf("privacy payload generation failed: %w", err))
	}
	if resp == nil {
		return nil, txerror.New(txerror.KindPrivacy, types.ErrPayloadIncomplete)
	}

	p := resp.Payload
	if err := p.Usable(); err != nil {
		return nil, txerror.New(txerror.KindPrivacy, err)
	}
	if p.Verifier == "" {
		p.Verifier = req.Verifier
	}
	if p.RequiresAging() && p.SpendableAtUnix == nil {
		at := m.now().Add(m.minNoteAge).Unix()
		p.SpendableAtUnix = &at
	}

	if m.store != nil {
		if err := m.store.Save(ctx, &p); err != nil {
			m.logger.Warn("failed to persist privacy payload", zap.Error(err))
		}
	}
	if resp.TxHash != "" {
		m.logger.Info("privacy action submitted", zap.String("tx_hash", resp.TxHash))
	}
	return &p, nil
}

// EnsureSpendable returns the persisted payload, failing fast while a v3
// note's mixing window is still open
func (m *Manager) EnsureSpendable(ctx context.Context) (*types.PrivacyPayload, error) {
	p := m.load(ctx)
	if p == nil {
		return nil, txerror.New(txerror.KindPrivacy, ErrNoPayload)
	}
	if err := p.Usable(); err != nil {
		return nil, txerror.New(txerror.KindPrivacy, err)
	}
	if wait := p.SpendableIn(m.now()); wait > 0 {
		return nil, txerror.New(txerror.KindPrivacy, &MixingWindowError{Remaining: wait})
	}
	return p, nil
}

// Consume invalidates the payload after the trade it backed succeeded
func (m *Manager) Consume(ctx context.Context) error {
	m.logger.Debug("consuming privacy payload")
	return m.Clear(ctx)
}

// Clear drops the persisted payload
func (m *Manager) Clear(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear privacy payload: %w", err)
	}
	return nil
}
