package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/crm-intake-bot/internal/domain"
)

// TicketCreate carries the reporter snapshot a ticket is created from.
type TicketCreate struct {
	Type           domain.TicketType
	ReporterName   string
	ReporterModule string
	Category       string
	Description    string
}

// TicketRepository encapsulates ticket persistence.
//
// Claim is the only mutation after creation and must be an atomic
// compare-and-swap on status: it returns *domain.AlreadyClaimedError when the
// ticket is not NEW and domain.ErrTicketNotFound for unknown IDs.
type TicketRepository interface {
	Create(ctx context.Context, input TicketCreate) (*domain.Ticket, error)
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
	RecordNotificationCopy(ctx context.Context, id int64, surface domain.SurfaceKey, ref domain.MessageRef) error
	Claim(ctx context.Context, id int64, claimant domain.Claimant) (*domain.Ticket, error)
	CountByStatus(ctx context.Context) (map[domain.TicketStatus]int, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates the Postgres-backed repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, type, reporter_name, reporter_module, category, description,
               status, claimed_by, claimed_by_id, claimed_at, created_at`

func (r *ticketRepository) Create(ctx context.Context, input TicketCreate) (*domain.Ticket, error) {
	const query = `
        INSERT INTO tickets (type, reporter_name, reporter_module, category, description, status)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at`
	ticket := &domain.Ticket{
		Type:           input.Type,
		ReporterName:   input.ReporterName,
		ReporterModule: input.ReporterModule,
		Category:       input.Category,
		Description:    input.Description,
		Status:         domain.TicketStatusNew,
		Copies:         map[domain.SurfaceKey]domain.MessageRef{},
	}
	if err := r.pool.QueryRow(ctx, query,
		ticket.Type,
		ticket.ReporterName,
		ticket.ReporterModule,
		ticket.Category,
		ticket.Description,
		ticket.Status,
	).Scan(&ticket.ID, &ticket.CreatedAt); err != nil {
		return nil, err
	}
	return ticket, nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTicketNotFound
		}
		return nil, err
	}
	if err := r.loadCopies(ctx, r.pool, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

func (r *ticketRepository) RecordNotificationCopy(ctx context.Context, id int64, surface domain.SurfaceKey, ref domain.MessageRef) error {
	const query = `
        INSERT INTO ticket_notifications (ticket_id, surface, chat_id, message_id)
        SELECT $1,$2,$3,$4 WHERE EXISTS (SELECT 1 FROM tickets WHERE id=$1)
        ON CONFLICT (ticket_id, surface) DO UPDATE
            SET chat_id=EXCLUDED.chat_id, message_id=EXCLUDED.message_id`
	cmd, err := r.pool.Exec(ctx, query, id, string(surface), ref.ChatID, ref.MessageID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrTicketNotFound
	}
	return nil
}

// Claim flips NEW to IN_PROGRESS in a single conditional UPDATE so that
// concurrent claimers race on the row lock and exactly one wins.
func (r *ticketRepository) Claim(ctx context.Context, id int64, claimant domain.Claimant) (*domain.Ticket, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const claim = `
        UPDATE tickets SET status=$2, claimed_by=$3, claimed_by_id=$4, claimed_at=NOW()
        WHERE id=$1 AND status=$5
        RETURNING ` + ticketColumns
	ticket, err := scanTicket(tx.QueryRow(ctx, claim,
		id,
		domain.TicketStatusInProgress,
		claimant.Name,
		claimant.ID,
		domain.TicketStatusNew,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.claimRejection(ctx, tx, id)
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadCopies(ctx, tx, ticket); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ticket, nil
}

func (r *ticketRepository) claimRejection(ctx context.Context, tx pgx.Tx, id int64) error {
	const query = `SELECT claimed_by, claimed_by_id FROM tickets WHERE id=$1`
	var (
		claimedBy   *string
		claimedByID *int64
	)
	if err := tx.QueryRow(ctx, query, id).Scan(&claimedBy, &claimedByID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrTicketNotFound
		}
		return err
	}
	rejection := &domain.AlreadyClaimedError{TicketID: id}
	if claimedBy != nil {
		rejection.ClaimedBy = *claimedBy
	}
	if claimedByID != nil {
		rejection.ClaimedByID = *claimedByID
	}
	return rejection
}

func (r *ticketRepository) CountByStatus(ctx context.Context) (map[domain.TicketStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM tickets GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[domain.TicketStatus]int{}
	for rows.Next() {
		var (
			status domain.TicketStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *ticketRepository) loadCopies(ctx context.Context, q querier, ticket *domain.Ticket) error {
	const query = `SELECT surface, chat_id, message_id FROM ticket_notifications WHERE ticket_id=$1`
	rows, err := q.Query(ctx, query, ticket.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	ticket.Copies = map[domain.SurfaceKey]domain.MessageRef{}
	for rows.Next() {
		var (
			surface string
			ref     domain.MessageRef
		)
		if err := rows.Scan(&surface, &ref.ChatID, &ref.MessageID); err != nil {
			return err
		}
		ticket.Copies[domain.SurfaceKey(surface)] = ref
	}
	return rows.Err()
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket      domain.Ticket
		claimedBy   *string
		claimedByID *int64
		claimedAt   *time.Time
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.Type,
		&ticket.ReporterName,
		&ticket.ReporterModule,
		&ticket.Category,
		&ticket.Description,
		&ticket.Status,
		&claimedBy,
		&claimedByID,
		&claimedAt,
		&ticket.CreatedAt,
	); err != nil {
		return nil, err
	}
	if claimedBy != nil {
		ticket.ClaimedBy = *claimedBy
	}
	if claimedByID != nil {
		ticket.ClaimedByID = *claimedByID
	}
	ticket.ClaimedAt = claimedAt
	return &ticket, nil
}
