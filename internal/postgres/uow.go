package postgres

import (
	"context"
	"database/sql"

	"github.com/phillus33/outbox-inbox/pkg/inbox"
	"github.com/phillus33/outbox-inbox/pkg/outbox"
)

// UnitOfWork binds the outbox and inbox capabilities to one *sql.Tx. Business
// code writes through Tx() so its changes commit or roll back together with
// the outbox and dedup rows.
type UnitOfWork struct {
	tx *sql.Tx
}

var (
	_ outbox.RecordInserter = (*UnitOfWork)(nil)
	_ inbox.Ledger          = (*UnitOfWork)(nil)
)

func NewUnitOfWork(tx *sql.Tx) *UnitOfWork {
	return &UnitOfWork{tx: tx}
}

func (u *UnitOfWork) Tx() *sql.Tx {
	return u.tx
}

func (u *UnitOfWork) InsertOutboxRecord(ctx context.Context, rec *outbox.Record) error {
	if u == nil || u.tx == nil {
		return ErrTxRequired
	}

	query := `
        INSERT INTO outbox (id, aggregatetype, aggregateid, type, payload)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING created_at`

	err := u.tx.QueryRowContext(ctx, query,
		rec.ID, rec.AggregateType, rec.AggregateID, rec.Type, string(rec.Payload),
	).Scan(&rec.CreatedAt)

	return translate("insert outbox record", err)
}

func (u *UnitOfWork) FindOutboxRecord(ctx context.Context, id string) (*outbox.Record, error) {
	if u == nil || u.tx == nil {
		return nil, ErrTxRequired
	}
	return scanRecord(u.tx.QueryRowContext(ctx, selectRecordByID, id))
}

func (u *UnitOfWork) InsertConsumedEvent(ctx context.Context, ev inbox.ConsumedEvent) error {
	if u == nil || u.tx == nil {
		return ErrTxRequired
	}

	query := `
        INSERT INTO consumed_event (id, time_of_received)
        VALUES ($1, $2)`

	_, err := u.tx.ExecContext(ctx, query, ev.ID, ev.ReceivedAt)
	return translate("insert consumed event", err)
}

func (u *UnitOfWork) FindConsumedEvent(ctx context.Context, id string) (*inbox.ConsumedEvent, error) {
	if u == nil || u.tx == nil {
		return nil, ErrTxRequired
	}

	query := `
        SELECT id, time_of_received
        FROM consumed_event
        WHERE id = $1`

	ev := &inbox.ConsumedEvent{}
	if err := u.tx.QueryRowContext(ctx, query, id).Scan(&ev.ID, &ev.ReceivedAt); err != nil {
		return nil, translate("find consumed event", err)
	}
	return ev, nil
}
