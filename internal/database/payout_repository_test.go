package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripmarket/marketplace-backend/internal/models"
)

func newPayout(now time.Time) *models.Payout {
	return &models.Payout{
		ID:            uuid.New(),
		VendorID:      uuid.New(),
		Currency:      "USD",
		ScheduleTag:   models.ScheduleDaily,
		ScheduledDate: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

var claimColumns = []string{"id", "booking_id", "type", "amount", "release_date"}

func TestCreateWithClaim(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)

	t.Run("Success nets debits", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPayoutRepository(db, quietLogger())
		p := newPayout(now)
		b1, b2 := uuid.New(), uuid.New()
		e1, e2, e3 := uuid.New(), uuid.New(), uuid.New()
		early := now.AddDate(0, 0, -3)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO payouts`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`UPDATE escrow_ledger_entries SET payout_status = 'included_in_payout'`).
			WithArgs(p.ID, p.VendorID, now).
			WillReturnRows(sqlmock.NewRows(claimColumns).
				AddRow(e1.String(), b1.String(), "credit", int64(7650), early).
				AddRow(e2.String(), b2.String(), "credit", int64(5000), now).
				AddRow(e3.String(), b1.String(), "debit", int64(1000), now))
		mock.ExpectExec(`UPDATE payouts SET amount = \$1`).
			WithArgs(int64(11650), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), p.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.CreateWithClaim(ctx, p, 5000, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(11650), p.Amount)
		assert.Len(t, p.EntryIDs, 3)
		assert.ElementsMatch(t, []uuid.UUID{b1, b2}, []uuid.UUID(p.BookingIDs))
		require.NotNil(t, p.PeriodStart)
		assert.True(t, p.PeriodStart.Equal(early))
		assert.Equal(t, models.PayoutStatusProcessing, p.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Below minimum rolls back", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPayoutRepository(db, quietLogger())
		p := newPayout(now)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO payouts`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`UPDATE escrow_ledger_entries`).
			WillReturnRows(sqlmock.NewRows(claimColumns).
				AddRow(uuid.New().String(), uuid.New().String(), "credit", int64(4999), now))
		mock.ExpectRollback()

		err := repo.CreateWithClaim(ctx, p, 5000, nil)
		assert.ErrorIs(t, err, ErrBelowMinimum)
		assert.Zero(t, p.Amount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Fee debit written before claim", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPayoutRepository(db, quietLogger())
		p := newPayout(now)
		p.IsEarly = true
		p.EarlyFee = 200
		fee := &models.EscrowLedgerEntry{
			ID: uuid.New(), VendorID: p.VendorID, PayoutID: &p.ID,
			Type: models.EntryDebit, Amount: 200, Currency: "USD",
			EscrowStatus: models.EscrowReleased, PayoutStatus: models.EntryPayoutPending,
			ReleaseDate: now, Description: models.EntryDescEarlyPayout, CreatedAt: now, UpdatedAt: now,
		}

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO payouts`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO escrow_ledger_entries`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`UPDATE escrow_ledger_entries`).
			WillReturnRows(sqlmock.NewRows(claimColumns).
				AddRow(uuid.New().String(), uuid.New().String(), "credit", int64(10000), now).
				AddRow(fee.ID.String(), nil, "debit", int64(200), now))
		mock.ExpectExec(`UPDATE payouts SET amount`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, repo.CreateWithClaim(ctx, p, 5000, fee))
		assert.Equal(t, int64(9800), p.Amount)
		assert.Len(t, p.BookingIDs, 1)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPayoutMarkFailed(t *testing.T) {
	ctx := context.Background()

	t.Run("Returns entries to the payable balance", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPayoutRepository(db, quietLogger())
		id := uuid.New()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE payouts SET status = 'failed'`).
			WithArgs("account closed", id).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE escrow_ledger_entries SET escrow_status = 'refunded'`).
			WithArgs(id, models.EntryDescEarlyPayout).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`UPDATE escrow_ledger_entries SET payout_status = 'pending', payout_id = NULL`).
			WithArgs(id).
			WillReturnResult(sqlmock.NewResult(0, 4))
		mock.ExpectCommit()

		ok, err := repo.MarkFailed(ctx, id, "account closed")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Completed payout is left alone", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPayoutRepository(db, quietLogger())

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE payouts SET status = 'failed'`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		ok, err := repo.MarkFailed(ctx, uuid.New(), "late failure")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPayoutMarkSubmitted(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPayoutRepository(db, quietLogger())
	id := uuid.New()

	mock.ExpectExec(`UPDATE payouts SET status = 'in_transit'`).
		WithArgs("tr_1", id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.MarkSubmitted(context.Background(), id, "tr_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
