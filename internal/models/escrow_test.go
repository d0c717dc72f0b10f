package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func ledgerEntry(typ EntryType, desc string, amount int64, escrow EscrowStatus, payout EntryPayoutStatus) *EscrowLedgerEntry {
	return &EscrowLedgerEntry{
		ID: uuid.New(), Type: typ, Description: desc, Amount: amount,
		EscrowStatus: escrow, PayoutStatus: payout,
	}
}

func TestPlanRefund(t *testing.T) {
	held := ledgerEntry(EntryCredit, EntryDescBooking, 7650, EscrowHeld, EntryPayoutPending)
	paid := ledgerEntry(EntryCredit, EntryDescBooking, 7650, EscrowReleased, EntryPayoutIncluded)
	voided := ledgerEntry(EntryCredit, EntryDescBooking, 7650, EscrowRefunded, EntryPayoutPending)
	retained := ledgerEntry(EntryCredit, EntryDescRetained, 3825, EscrowHeld, EntryPayoutPending)
	paidRetained := ledgerEntry(EntryCredit, EntryDescRetained, 3825, EscrowReleased, EntryPayoutIncluded)
	clawBack := ledgerEntry(EntryDebit, EntryDescRefundReverse, 7650, EscrowReleased, EntryPayoutPending)

	tests := []struct {
		name     string
		entries  []*EscrowLedgerEntry
		retained int64
		want     RefundPlan
	}{
		{
			name:    "full refund of a held credit",
			entries: []*EscrowLedgerEntry{held},
			want:    RefundPlan{Void: UUIDArray{held.ID}},
		},
		{
			name:     "partial refund of a held credit",
			entries:  []*EscrowLedgerEntry{held},
			retained: 3825,
			want:     RefundPlan{Void: UUIDArray{held.ID}, Retain: 3825},
		},
		{
			name:     "partial refund after payout",
			entries:  []*EscrowLedgerEntry{paid},
			retained: 3825,
			want:     RefundPlan{ClawBack: 7650, Retain: 3825},
		},
		{
			name:     "same partial refund again",
			entries:  []*EscrowLedgerEntry{voided, retained},
			retained: 3825,
			want:     RefundPlan{},
		},
		{
			name:    "partial grows to full before the retained credit is paid",
			entries: []*EscrowLedgerEntry{voided, retained},
			want:    RefundPlan{Void: UUIDArray{retained.ID}},
		},
		{
			name:    "partial grows to full after the retained credit is paid",
			entries: []*EscrowLedgerEntry{paid, clawBack, paidRetained},
			want:    RefundPlan{ClawBack: 3825},
		},
		{
			name:     "smaller retained share replaces the earlier one",
			entries:  []*EscrowLedgerEntry{voided, retained},
			retained: 1530,
			want:     RefundPlan{Void: UUIDArray{retained.ID}, Retain: 1530},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := PlanRefund(tt.entries, tt.retained)
			assert.Equal(t, tt.want, plan)
			assert.Equal(t, tt.want.IsEmpty(), plan.IsEmpty())
		})
	}
}
