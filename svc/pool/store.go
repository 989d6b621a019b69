package pool

import (
	"context"
	"pastebin/metrics"
	"pastebin/pkg/domain"
	"pastebin/svc/util"
	"time"

	"github.com/pkg/errors"
)

// SequenceName is the counter every producer draws pool sequence values from.
const SequenceName = "pool_tokens"

// Ledger is the durable side of the pool: an atomic counter and the record of
// every token ever generated.
type Ledger interface {
	NextSequence(ctx context.Context, name string, n int) (int64, error)
	InsertPoolTokens(ctx context.Context, tokens []domain.PoolToken) error
}

// Store generates tokens from the shared sequence and records them in the ledger.
type Store struct {
	ledger      Ledger
	tokenLength int
	now         func() time.Time
}

func NewStore(ledger Ledger, tokenLength int) *Store {
	if ledger == nil {
		panic("pool store: nil ledger")
	}
	if tokenLength < util.MinTokenLength || tokenLength > util.MaxTokenLength {
		tokenLength = util.DefaultTokenLength
	}
	return &Store{ledger: ledger, tokenLength: tokenLength, now: time.Now}
}

// NextSequenceValue draws a single value from the shared counter.
func (s *Store) NextSequenceValue(ctx context.Context) (int64, error) {
	v, err := s.ledger.NextSequence(ctx, SequenceName, 1)
	return v, errors.Wrap(err, "next sequence value")
}

// GenerateBatch reserves count sequence values, encodes them and persists the
// batch in one write. If the write fails the reserved values are abandoned;
// gaps are harmless because uniqueness only needs the counter to move forward.
func (s *Store) GenerateBatch(ctx context.Context, count int) ([]domain.PoolToken, error) {
	if count <= 0 {
		return nil, nil
	}
	last, err := s.ledger.NextSequence(ctx, SequenceName, count)
	if err != nil {
		return nil, errors.Wrap(err, "reserve sequence range")
	}
	first := last - int64(count) + 1
	if first < 0 {
		return nil, errors.Errorf("sequence underflow: last=%d count=%d", last, count)
	}
	now := s.now().UTC()
	tokens := make([]domain.PoolToken, count)
	for i := range tokens {
		seq := first + int64(i)
		tokens[i] = domain.PoolToken{
			SequenceID: seq,
			Token:      util.EncodeToken(uint64(seq), s.tokenLength),
			CreatedAt:  now,
		}
	}
	if err := s.ledger.InsertPoolTokens(ctx, tokens); err != nil {
		util.Warn().
			Err(err).
			Int64("first_sequence", first).
			Int64("last_sequence", last).
			Msg("pool batch discarded, sequence range abandoned")
		return nil, errors.Wrap(err, "persist pool batch")
	}
	metrics.PoolTokensGenerated.Add(float64(count))
	return tokens, nil
}
