package domain

import "time"

// PoolToken is a ledger entry for a pre-generated token. The allocation queue,
// not IsUsed, decides whether a token is still available.
type PoolToken struct {
	SequenceID int64
	Token      string
	CreatedAt  time.Time
	UsedAt     *time.Time
	IsUsed     bool
}
