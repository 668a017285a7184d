package service

import (
	"context"
	"errors"
	"testing"

	"tablepos/internal/apierror"
	"tablepos/internal/dto"
	"tablepos/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBilling_ThenGetReturnsZeroTotals(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	resp, err := f.billing.CreateBilling(ctx, dto.CreateBillingRequest{
		CustomerName: strPtr("Marta"),
		TableID:      "T4",
		ServerID:     "s-9",
		ServerName:   "Luis",
	})
	require.NoError(t, err)

	view, err := f.billing.GetBilling(ctx, uuid.MustParse(resp.BillingID))
	require.NoError(t, err)
	require.NotNil(t, view)

	assert.Equal(t, resp.BillingID, view.ID)
	assert.Equal(t, model.BillingOpen, view.Status)
	assert.Equal(t, "Marta", *view.CustomerName)
	assert.True(t, view.Subtotal.IsZero())
	assert.True(t, view.DiscountAmount.IsZero())
	assert.True(t, view.TaxAmount.IsZero())
	assert.True(t, view.TotalAmount.IsZero())

	require.Len(t, view.Sessions, 1)
	s := view.Sessions[0]
	assert.Equal(t, resp.SessionID, s.ID)
	assert.Equal(t, "T4", s.TableLabel)
	assert.Equal(t, "T4", s.OriginalTableID)
	assert.Equal(t, model.SessionActive, s.Status)
	assert.Equal(t, 0, s.OrdersCount)
}

func TestCreateBilling_OccupiedTableIsConflictAndLeavesNothing(t *testing.T) {
	f := newFixture()
	f.open(t, "T1")

	_, err := f.billing.CreateBilling(context.Background(), dto.CreateBillingRequest{
		TableID: "T1", ServerID: "s-2", ServerName: "Eva",
	})
	assert.True(t, apierror.IsKind(err, apierror.KindConflict))
	assert.Len(t, f.store.billings, 1, "the second billing must be rolled back")
	assert.Len(t, f.store.sessions, 1)
}

func TestCreateBilling_MissingFieldsIsValidation(t *testing.T) {
	f := newFixture()

	_, err := f.billing.CreateBilling(context.Background(), dto.CreateBillingRequest{TableID: "T1"})
	assert.True(t, apierror.IsKind(err, apierror.KindValidation))
	assert.Empty(t, f.store.billings)
}

func TestGetBilling_UnknownIsNil(t *testing.T) {
	f := newFixture()

	view, err := f.billing.GetBilling(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, view)
}

func TestGetBilling_RefreshesStoredTotals(t *testing.T) {
	f := newFixture()
	bid, sid := f.open(t, "T2")
	f.addOrder(sid, "3.00", item("pasta", 2, "14.00", "4.00"))
	f.addOrder(sid, "1.00", item("wine", 1, "9.00", "3.00"))

	view, err := f.billing.GetBilling(context.Background(), bid)
	require.NoError(t, err)

	assertDec(t, "37.00", view.Subtotal)
	assertDec(t, "4.00", view.TaxAmount)
	assertDec(t, "41.00", view.TotalAmount)
	assertDec(t, "26.00", view.ProfitTotal)
	require.Len(t, view.Sessions, 1)
	assert.Equal(t, 2, view.Sessions[0].OrdersCount)
	assertDec(t, "37.00", view.Sessions[0].SessionTotal)

	stored := f.store.billings[bid]
	assertDec(t, "37.00", stored.Subtotal)
	assertDec(t, "41.00", stored.TotalAmount)
}

func TestGetBilling_StoredDiscountIsClampedToTotal(t *testing.T) {
	f := newFixture()
	bid, sid := f.open(t, "T2")
	f.addOrder(sid, "2.00", item("pizza", 1, "18.00", "6.00"))

	b := f.store.billings[bid]
	b.DiscountAmount = dec("500")
	f.store.billings[bid] = b

	view, err := f.billing.GetBilling(context.Background(), bid)
	require.NoError(t, err)

	assertDec(t, "20.00", view.DiscountAmount)
	assertDec(t, "0", view.TotalAmount)
}

func TestGetBilling_RetriesTransientFailure(t *testing.T) {
	f := newFixture()
	bid, _ := f.open(t, "T3")
	f.store.failOn("billings.FindForUpdate", 1, apierror.Transient("connection reset", errors.New("EOF")))

	view, err := f.billing.GetBilling(context.Background(), bid)
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, 2, f.store.calls["billings.FindForUpdate"])
}

func TestGetBilling_NonTransientFailureIsNotRetried(t *testing.T) {
	f := newFixture()
	bid, _ := f.open(t, "T3")
	f.store.failOn("billings.FindForUpdate", 0, assert.AnError)

	_, err := f.billing.GetBilling(context.Background(), bid)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, f.store.calls["billings.FindForUpdate"])
}

func TestCloseBilling_ClosesActiveSessionsAndIsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	bid, sid := f.open(t, "T5")

	view, err := f.billing.CloseBilling(ctx, bid)
	require.NoError(t, err)
	assert.Equal(t, model.BillingClosed, view.Status)
	assert.NotNil(t, view.ClosedAt)
	assert.Equal(t, model.SessionClosed, f.store.sessions[sid].Status)

	view, err = f.billing.CloseBilling(ctx, bid)
	require.NoError(t, err)
	assert.Equal(t, model.BillingClosed, view.Status)

	// the table is free again
	_, err = f.billing.CreateBilling(ctx, dto.CreateBillingRequest{TableID: "T5", ServerID: "s-1", ServerName: "Ana"})
	assert.NoError(t, err)
}

func TestCloseBilling_Unknown(t *testing.T) {
	f := newFixture()

	_, err := f.billing.CloseBilling(context.Background(), uuid.New())
	assert.True(t, apierror.IsKind(err, apierror.KindNotFound))
}

func TestReceipt_FlattensItemsAndPayments(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	bid, sid := f.open(t, "T6")
	f.addOrder(sid, "0", item("tea", 2, "3.00", "0.50"), item("cake", 1, "5.00", "2.00"))

	_, err := f.ledger.RegisterPayment(ctx, dto.RegisterPaymentRequest{
		SessionID: sid.String(),
		BillingID: bid.String(),
		Lines: []dto.PaymentLineRequest{
			{AmountPaid: dec("11.00"), PaymentMethod: "cash", TipAmount: dec("1.50")},
		},
	})
	require.NoError(t, err)

	r, err := f.billing.Receipt(ctx, bid)
	require.NoError(t, err)
	require.Len(t, r.Items, 2)
	assert.Equal(t, "tea", r.Items[0].Name)
	assertDec(t, "6.00", r.Items[0].LineTotal)
	assertDec(t, "11.00", r.TotalAmount)
	assertDec(t, "11.00", r.TotalPaid)
	assertDec(t, "1.50", r.TotalTip)
	assert.Equal(t, model.BillingPaid, r.Status)
}

func TestReceipt_ListsItemsAcrossMovedTables(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	bid, sid := f.open(t, "T8")
	f.addOrder(sid, "0", item("soup", 1, "4.00", "1.00"))

	moved, err := f.mover.MoveSession(ctx, sid, moveReq("T8", "T9"))
	require.NoError(t, err)
	f.addOrder(uuid.MustParse(moved.NewSessionID), "0", item("steak", 1, "18.00", "7.00"), item("deleted", 1, "3.00", "1.00"))
	f.store.items[len(f.store.items)-1].IsDeleted = true

	r, err := f.billing.Receipt(ctx, bid)
	require.NoError(t, err)
	require.Len(t, r.Items, 2)
	assert.Equal(t, "soup", r.Items[0].Name)
	assert.Equal(t, "steak", r.Items[1].Name)
	assertDec(t, "22.00", r.TotalAmount)
	assert.Equal(t, 1, f.store.calls["orders.GetOrdersByBilling"])
}

func TestReceipt_Unknown(t *testing.T) {
	f := newFixture()

	_, err := f.billing.Receipt(context.Background(), uuid.New())
	assert.True(t, apierror.IsKind(err, apierror.KindNotFound))
}

func TestGetActiveSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, sid := f.open(t, "T7")
	f.addOrder(sid, "0", item("water", 1, "2.00", "0.20"))

	view, err := f.billing.GetActiveSession(ctx, "T7")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, sid.String(), view.ID)
	assertDec(t, "2.00", view.SessionTotal)

	view, err = f.billing.GetActiveSession(ctx, "T99")
	require.NoError(t, err)
	assert.Nil(t, view)
}

func TestClampDiscount(t *testing.T) {
	cases := []struct{ discount, ceiling, want string }{
		{"10", "50", "10"},
		{"50", "50", "50"},
		{"80", "50", "50"},
		{"-5", "50", "0"},
		{"3", "0", "0"},
	}
	for _, c := range cases {
		assertDec(t, c.want, clampDiscount(dec(c.discount), dec(c.ceiling)), c)
	}
}
