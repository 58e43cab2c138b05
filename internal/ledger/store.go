package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"gmailfarm-bot/internal/credentials"
	"gmailfarm-bot/internal/metrics"
	"gmailfarm-bot/internal/settings"
)

const (
	maxBusyRetries = 3
	busyBackoff    = 50 * time.Millisecond
	lockTimeout    = "3s"
)

// Store is the user ledger. Every mutation is a single transaction with the
// affected user rows locked; nothing is cached between calls.
type Store struct {
	db       *gorm.DB
	settings *settings.Store
	issuer   *credentials.Issuer
	log      *slog.Logger
	now      func() time.Time
}

func NewStore(db *gorm.DB, st *settings.Store, issuer *credentials.Issuer, log *slog.Logger) *Store {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if issuer == nil {
		issuer = credentials.NewIssuer()
	}
	return &Store{
		db:       db,
		settings: st,
		issuer:   issuer,
		log:      log,
		now:      time.Now,
	}
}

func (s *Store) DB() *gorm.DB { return s.db }
func (s *Store) Settings() *settings.Store { return s.settings }
func (s *Store) Issuer() *credentials.Issuer { return s.issuer }
func (s *Store) Logger() *slog.Logger { return s.log }
func (s *Store) Now() time.Time { return s.now() }
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Tx runs fn inside one database transaction. Lock contention is retried up
// to maxBusyRetries times and then reported as ErrBusy; any other storage
// failure is logged and reported as ErrInternal.
func (s *Store) Tx(ctx context.Context, fn func(tx *Tx) error) error {
	var err error
	for attempt := 0; attempt <= maxBusyRetries; attempt++ {
		if attempt > 0 {
			metrics.StoreBusyRetriesTotal.Inc()
			timer := time.NewTimer(time.Duration(attempt) * busyBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err = s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
			if gtx.Dialector.Name() == "postgres" {
				if err := gtx.Exec("SET LOCAL lock_timeout = '" + lockTimeout + "'").Error; err != nil {
					return err
				}
			}
			return fn(&Tx{ctx: ctx, DB: gtx, Settings: s.settings.With(gtx), store: s})
		})
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			break
		}
		s.log.Warn("ledger transaction contended", slog.Int("attempt", attempt+1), slog.String("error", err.Error()))
	}

	if IsDomain(err) {
		return err
	}
	if isBusy(err) {
		return ErrBusy
	}
	s.log.Error("ledger transaction failed", slog.String("error", err.Error()))
	return ErrInternal
}

// storageErr maps a read failure outside a transaction.
func (s *Store) storageErr(op string, err error) error {
	if IsDomain(err) {
		return err
	}
	if isBusy(err) {
		return ErrBusy
	}
	s.log.Error("ledger read failed", slog.String("op", op), slog.String("error", err.Error()))
	return ErrInternal
}

func isBusy(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01": // lock_not_available, serialization_failure, deadlock_detected
			return true
		}
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}
