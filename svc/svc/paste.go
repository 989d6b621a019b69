package svc

import (
	"context"
	"pastebin/cfg"
	"pastebin/metrics"
	"pastebin/pkg/domain"
	"pastebin/svc/blob"
	"pastebin/svc/db"
	"pastebin/svc/util"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

const (
	maxTitleChars    = 200
	maxLanguageChars = 50
)

// MetaStore is the authoritative record of which pastes exist.
type MetaStore interface {
	InsertPaste(ctx context.Context, p *domain.Paste) error
	FindByToken(ctx context.Context, token string) (*domain.Paste, error)
	IncrementViews(ctx context.Context, id string) (int64, error)
	DeleteByID(ctx context.Context, id string) (bool, error)
	MarkPoolTokenUsed(ctx context.Context, token string, at time.Time) error
}

type ContentStore interface {
	Put(ctx context.Context, token string, data []byte) error
	Get(ctx context.Context, token string) ([]byte, error)
	Size(ctx context.Context, token string) (int64, error)
	Delete(ctx context.Context, token string) error
}

// Cache must never fail its caller; see cache.Paste.
type Cache interface {
	Get(ctx context.Context, token string) *domain.Paste
	Set(ctx context.Context, p *domain.Paste)
	Remove(ctx context.Context, token string)
	IncrementViewCount(ctx context.Context, token string)
}

type TokenSource interface {
	Acquire(ctx context.Context) (string, error)
}

type Option func(*Paste)

func WithClock(now func() time.Time) Option {
	return func(p *Paste) { p.now = now }
}

type Paste struct {
	meta     MetaStore
	content  ContentStore
	cache    Cache
	tokens   TokenSource
	cfg      *cfg.Cfg
	now      func() time.Time
	shutdown atomic.Bool
	opWg     sync.WaitGroup
}

func NewPaste(meta MetaStore, content ContentStore, c Cache, tokens TokenSource, conf *cfg.Cfg, opts ...Option) *Paste {
	if meta == nil || content == nil || c == nil || tokens == nil || conf == nil {
		panic("paste service: nil dependency (meta, content, cache, tokens, or cfg)")
	}
	p := &Paste{
		meta:    meta,
		content: content,
		cache:   c,
		tokens:  tokens,
		cfg:     conf,
		now:     time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Paste) begin() error {
	if p.shutdown.Load() {
		return domain.ErrServiceShutdown
	}
	p.opWg.Add(1)
	return nil
}

// Shutdown rejects new operations and waits for in-flight ones.
func (p *Paste) Shutdown() {
	p.shutdown.Store(true)
	done := make(chan struct{})
	go func() {
		p.opWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		util.Warn().Msg("paste operations didn't finish in time")
	}
	util.Debug().Msg("paste service shutdown complete")
}

func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func (p *Paste) validate(params *domain.CreateParams) error {
	if params.Content == "" {
		return domain.ErrContentRequired
	}
	if int64(len(params.Content)) > p.cfg.MaxPasteSize {
		return domain.ErrPasteTooLarge
	}
	if params.TTL == 0 {
		params.TTL = p.cfg.DefaultTTL
	}
	if params.TTL < p.cfg.MinTTL || params.TTL > p.cfg.MaxTTL {
		return domain.ErrInvalidTTL
	}
	params.Title = normalize(params.Title)
	if utf8.RuneCountInString(params.Title) > maxTitleChars {
		return domain.ErrTitleTooLong
	}
	params.Language = normalize(params.Language)
	if utf8.RuneCountInString(params.Language) > maxLanguageChars {
		return domain.ErrLanguageTooLong
	}
	return nil
}

// Create stores a new paste under a freshly allocated token. A failure after
// the content upload leaves an orphaned blob; no rollback is attempted.
func (p *Paste) Create(ctx context.Context, params domain.CreateParams) (*domain.Paste, error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer p.opWg.Done()
	if err := p.validate(&params); err != nil {
		return nil, err
	}
	token, err := p.tokens.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire token")
	}
	if err := p.content.Put(ctx, token, []byte(params.Content)); err != nil {
		return nil, domain.NewStorageError("store content", err)
	}
	size, err := p.content.Size(ctx, token)
	if err != nil {
		return nil, domain.NewStorageError("read content size", err)
	}
	now := p.now().UTC()
	paste := &domain.Paste{
		ID:               uuid.NewString(),
		Token:            token,
		ContentSizeBytes: size,
		CreatedAt:        now,
		ExpiresAt:        now.Add(params.TTL),
		Title:            params.Title,
		Language:         params.Language,
	}
	if err := p.meta.InsertPaste(ctx, paste); err != nil {
		return nil, domain.NewStorageError("persist metadata", err)
	}
	p.cache.Set(ctx, paste)
	if err := p.meta.MarkPoolTokenUsed(ctx, token, now); err != nil {
		util.Debug().Err(err).Str("token", token).Msg("pool ledger not updated")
	}
	metrics.PasteCreated.Inc()
	util.Info().
		Str("token", token).
		Int64("size", size).
		Time("expires_at", paste.ExpiresAt).
		Msg("paste created")
	return paste, nil
}

// Result shapes a created paste for the caller, including its public URL.
func (p *Paste) Result(paste *domain.Paste) *domain.CreateResult {
	return &domain.CreateResult{
		Token:            paste.Token,
		URL:              p.cfg.BaseURL + "/" + paste.Token,
		CreatedAt:        paste.CreatedAt,
		ExpiresAt:        paste.ExpiresAt,
		ExpiresInSeconds: int64(paste.Remaining(p.now()).Seconds()),
	}
}

// Get returns the paste with its content and counts the view. Expiry is
// checked before anything is mutated or fetched.
func (p *Paste) Get(ctx context.Context, token string) (*domain.PasteView, error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer p.opWg.Done()

	paste := p.cache.Get(ctx, token)
	fromStore := paste == nil
	if fromStore {
		var err error
		paste, err = p.meta.FindByToken(ctx, token)
		if errors.Is(err, db.ErrNotFound) {
			return nil, domain.ErrPasteNotFound
		}
		if err != nil {
			return nil, domain.NewStorageError("find paste", err)
		}
	}

	now := p.now()
	if paste.IsExpired(now) {
		p.expire(ctx, paste)
		return nil, &domain.ExpiredError{Token: paste.Token, ExpiredAt: paste.ExpiresAt}
	}
	if fromStore {
		p.cache.Set(ctx, paste)
	}

	views, err := p.meta.IncrementViews(ctx, paste.ID)
	if errors.Is(err, db.ErrNotFound) {
		// deleted between lookup and increment
		p.cache.Remove(ctx, token)
		return nil, domain.ErrPasteNotFound
	}
	if err != nil {
		return nil, domain.NewStorageError("increment views", err)
	}
	paste.ViewCount = views
	p.cache.IncrementViewCount(ctx, token)

	body, err := p.content.Get(ctx, token)
	if errors.Is(err, blob.ErrNotFound) {
		util.Warn().Str("token", token).Str("id", paste.ID).Msg("metadata present but content missing")
		return nil, domain.ErrPasteNotFound
	}
	if err != nil {
		return nil, domain.NewStorageError("fetch content", err)
	}
	metrics.PasteRetrieved.Inc()
	return &domain.PasteView{
		Paste:            *paste,
		Content:          string(body),
		ExpiresInSeconds: int64(paste.Remaining(now).Seconds()),
		IsExpired:        false,
	}, nil
}

// expire removes an expired paste on the read path. Failures are left for the
// reclaimer, which deletes the same record idempotently.
func (p *Paste) expire(ctx context.Context, paste *domain.Paste) {
	p.cache.Remove(ctx, paste.Token)
	if _, err := p.meta.DeleteByID(ctx, paste.ID); err != nil {
		util.Warn().Err(err).Str("token", paste.Token).Str("id", paste.ID).Msg("expired paste metadata delete failed")
	}
	if err := p.content.Delete(ctx, paste.Token); err != nil {
		util.Warn().Err(err).Str("token", paste.Token).Msg("expired paste content delete failed")
	}
	metrics.PasteExpiredOnRead.Inc()
	util.Info().Str("token", paste.Token).Time("expired_at", paste.ExpiresAt).Msg("expired paste removed on read")
}

// Delete removes the paste everywhere. It reports false when no record
// existed, which is not an error.
func (p *Paste) Delete(ctx context.Context, token string) (bool, error) {
	if err := p.begin(); err != nil {
		return false, err
	}
	defer p.opWg.Done()

	paste, err := p.meta.FindByToken(ctx, token)
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, domain.NewStorageError("find paste", err)
	}
	deleted, err := p.meta.DeleteByID(ctx, paste.ID)
	if err != nil {
		return false, domain.NewStorageError("delete metadata", err)
	}
	p.cache.Remove(ctx, token)
	if err := p.content.Delete(ctx, token); err != nil {
		util.Warn().Err(err).Str("token", token).Msg("content delete failed")
	}
	if deleted {
		metrics.PasteDeleted.Inc()
		util.Info().Str("token", token).Msg("paste deleted")
	}
	return deleted, nil
}
