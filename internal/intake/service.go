package intake

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// How many times a state-changing transaction is retried when Postgres
// reports a serialization conflict before StorageFailure is surfaced.
const maxTxRetries = 3

var (
	hundred        = decimal.NewFromInt(100)
	damageDiscount = decimal.NewFromFloat(0.85) // damaged items are offered at 85%
)

// Service implements the intake core: the mapping cache, session lifecycle,
// finalization engine, and raw card state machine. All state-changing methods
// run inside a single storage transaction.
type Service struct {
	db            *gorm.DB
	log           *logrus.Logger
	mappingPolicy string
}

// NewService wires the intake service. policy selects the mapping conflict
// behavior (PolicyOverwrite or PolicyStrict).
func NewService(db *gorm.DB, log *logrus.Logger, policy string) *Service {
	if policy != PolicyStrict {
		policy = PolicyOverwrite
	}
	return &Service{db: db, log: log, mappingPolicy: policy}
}

// retryableConflict marks an error whose transaction should be retried whole,
// e.g. losing the insert race on a ledger row that did not exist at read time.
type retryableConflict struct {
	err error
}

func (e *retryableConflict) Error() string { return e.err.Error() }
func (e *retryableConflict) Unwrap() error { return e.err }

// isSerializationFailure recognizes Postgres serialization and deadlock
// SQLSTATEs (40001, 40P01) that warrant retrying the whole transaction.
func isSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 40001") ||
		strings.Contains(msg, "SQLSTATE 40P01") ||
		strings.Contains(msg, "could not serialize access") ||
		strings.Contains(msg, "deadlock detected")
}

// withRetry runs fn in a transaction, retrying on serialization conflicts a
// bounded number of times. Domain errors pass through untouched; a storage
// error that survives the retries is wrapped in StorageFailure.
func (s *Service) withRetry(op string, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= maxTxRetries; attempt++ {
		err = s.db.Transaction(fn)
		if err == nil {
			return nil
		}
		var rc *retryableConflict
		if !isSerializationFailure(err) && !errors.As(err, &rc) {
			return err
		}
		s.log.WithFields(logrus.Fields{"op": op, "attempt": attempt}).
			Warn("serialization conflict, retrying transaction")
		time.Sleep(time.Duration(attempt) * 25 * time.Millisecond)
	}
	return &StorageFailure{Op: op, Err: err}
}

// lineOffer computes the offer for a line: market price per unit x quantity x
// offer percentage, discounted for damaged items. Returns the line offer total
// and the per-unit cost basis, both rounded to the ledger's 4 decimal places.
func lineOffer(marketPrice decimal.Decimal, quantity int, offerPct decimal.Decimal, damaged bool) (offer, unitCost decimal.Decimal) {
	qty := decimal.NewFromInt(int64(quantity))
	perUnit := marketPrice.Mul(offerPct).Div(hundred)
	if damaged {
		perUnit = perUnit.Mul(damageDiscount)
	}
	perUnit = perUnit.Round(4)
	return perUnit.Mul(qty), perUnit
}
