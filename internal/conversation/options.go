package conversation

import (
	"time"

	"go.uber.org/zap"

	"healthcb/backend/internal/config"
	"healthcb/backend/internal/logger"
)

// Options tune the resolver, the membership guard and the message stream.
// Zero fields take the defaults from internal/config.
type Options struct {
	LookupAttempts  int
	CreateAttempts  int
	BackoffUnit     time.Duration
	MembershipDelay time.Duration
	HistoryPageSize int

	// Sleep replaces real waiting, mostly in tests.
	Sleep  SleepFunc
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.LookupAttempts <= 0 {
		o.LookupAttempts = config.LookupAttempts
	}
	if o.CreateAttempts <= 0 {
		o.CreateAttempts = config.CreateAttempts
	}
	if o.BackoffUnit <= 0 {
		o.BackoffUnit = config.BackoffUnit
	}
	if o.MembershipDelay <= 0 {
		o.MembershipDelay = config.MembershipAddDelay
	}
	if o.HistoryPageSize <= 0 {
		o.HistoryPageSize = config.HistoryPageSize
	}
	if o.Sleep == nil {
		o.Sleep = Sleep
	}
	o.Logger = logger.OrNop(o.Logger)
	return o
}
