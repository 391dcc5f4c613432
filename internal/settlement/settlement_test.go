package settlement_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-settlement/internal/cart"
	"github.com/noah-isme/pos-settlement/internal/currency"
	"github.com/noah-isme/pos-settlement/internal/payment"
	"github.com/noah-isme/pos-settlement/internal/pricing"
	"github.com/noah-isme/pos-settlement/internal/settlement"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func table(t *testing.T) *currency.Table {
	t.Helper()
	tbl, err := currency.NewTable([]currency.Currency{
		{Code: "USD", ExchangeRate: d("1"), IsBase: true, IsActive: true},
		{Code: "LBP", ExchangeRate: d("15000"), IsActive: true},
	})
	require.NoError(t, err)
	return tbl
}

func twoOfA(t *testing.T, tbl *currency.Table) cart.Totals {
	t.Helper()
	c := cart.New()
	_, err := c.Add(cart.Item{ProductID: "A", UnitType: pricing.UnitPiece, UnitPrice: d("10.000"), Currency: "USD"}, 2)
	require.NoError(t, err)
	return c.Totals(context.Background(), tbl)
}

func TestSimpleCashSale(t *testing.T) {
	tbl := table(t)
	got, err := settlement.ComputeSale(context.Background(), twoOfA(t, tbl), settlement.PaymentCash, nil, payment.Allocator{Table: tbl})
	require.NoError(t, err)
	require.True(t, got.EffectiveTotal.Equal(d("20")))
	require.True(t, got.PaidAmount.Equal(d("20")))
	require.True(t, got.DebtAmount.IsZero())
	require.True(t, got.ChangeAmount.IsZero())
	require.Equal(t, "paid", got.Status())
	require.Nil(t, got.Allocation)
}

func TestCreditSale(t *testing.T) {
	tbl := table(t)
	got, err := settlement.ComputeSale(context.Background(), twoOfA(t, tbl), settlement.PaymentCredit, nil, payment.Allocator{Table: tbl})
	require.NoError(t, err)
	require.True(t, got.PaidAmount.IsZero())
	require.True(t, got.DebtAmount.Equal(d("20")))
	require.Equal(t, "credit", got.Status())
}

func TestSaleRejectsUnknownPaymentType(t *testing.T) {
	tbl := table(t)
	_, err := settlement.ComputeSale(context.Background(), twoOfA(t, tbl), "cheque", nil, payment.Allocator{Table: tbl})
	require.ErrorIs(t, err, settlement.ErrInvalidPaymentType)
}

func TestSaleReconciles(t *testing.T) {
	tbl := table(t)
	ctx := context.Background()
	totals := twoOfA(t, tbl)
	cases := []struct {
		name    string
		pt      settlement.PaymentType
		tenders []payment.Tender
		debt    string
		change  string
	}{
		{"cash full", settlement.PaymentCash, nil, "0", "0"},
		{"credit", settlement.PaymentCredit, nil, "20", "0"},
		{"split short", settlement.PaymentSplit, []payment.Tender{{Currency: "USD", Amount: d("5")}, {Currency: "LBP", Amount: d("75000")}}, "10", "0"},
		{"split over", settlement.PaymentSplit, []payment.Tender{{Currency: "USD", Amount: d("15")}, {Currency: "LBP", Amount: d("150000")}}, "0", "5"},
		{"cash tendered short", settlement.PaymentCash, []payment.Tender{{Currency: "LBP", Amount: d("150000")}}, "10", "0"},
		{"split nothing", settlement.PaymentSplit, nil, "20", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := settlement.ComputeSale(ctx, totals, tc.pt, tc.tenders, payment.Allocator{Table: tbl})
			require.NoError(t, err)
			require.True(t, got.PaidAmount.Add(got.DebtAmount).Equal(got.EffectiveTotal))
			require.True(t, got.DebtAmount.Equal(d(tc.debt)), got.DebtAmount.String())
			require.True(t, got.ChangeAmount.Equal(d(tc.change)), got.ChangeAmount.String())
			require.False(t, got.ChangeAmount.IsPositive() && got.ShortfallAmount.IsPositive())
		})
	}
}

func TestMultiCurrencyCartSettlesOnBaseTotal(t *testing.T) {
	tbl := table(t)
	ctx := context.Background()
	c := cart.New()
	_, err := c.Add(cart.Item{ProductID: "A", UnitType: pricing.UnitPiece, UnitPrice: d("25"), Currency: "USD"}, 1)
	require.NoError(t, err)
	_, err = c.Add(cart.Item{ProductID: "B", UnitType: pricing.UnitPiece, UnitPrice: d("300000"), Currency: "LBP"}, 1)
	require.NoError(t, err)

	got, err := settlement.ComputeSale(ctx, c.Totals(ctx, tbl), settlement.PaymentSplit, []payment.Tender{
		{Currency: "USD", Amount: d("30")},
		{Currency: "LBP", Amount: d("225000")},
	}, payment.Allocator{Table: tbl})
	require.NoError(t, err)
	require.True(t, got.HasMultiCurrency)
	require.Equal(t, "USD", got.Currency)
	require.True(t, got.EffectiveTotal.Equal(d("45")))
	require.True(t, got.PaidAmount.Equal(d("45")))
	require.True(t, got.DebtAmount.IsZero())
}

func item(id string, qty, returned int, price, discount string) settlement.ReturnableItem {
	return settlement.ReturnableItem{
		OrderItemID:      id,
		ProductID:        "P-" + id,
		UnitType:         pricing.UnitPiece,
		Quantity:         qty,
		ReturnedQuantity: returned,
		UnitPrice:        d(price),
		Discount:         d(discount),
		Currency:         "USD",
	}
}

func TestOverReturnKeepsPriorQuantity(t *testing.T) {
	b := settlement.NewBasket()
	_, err := b.Add(item("oi-1", 3, 2, "10", "0"))
	require.NoError(t, err)

	_, err = b.UpdateQuantity("oi-1", 2)
	require.ErrorIs(t, err, settlement.ErrOverReturn)
	line, ok := b.Line("oi-1")
	require.True(t, ok)
	require.Equal(t, 1, line.Quantity)

	_, err = b.Add(item("oi-1", 3, 2, "10", "0"))
	require.ErrorIs(t, err, settlement.ErrOverReturn)
	line, _ = b.Line("oi-1")
	require.Equal(t, 1, line.Quantity)
}

func TestReturnQuantityStaysWithinCap(t *testing.T) {
	b := settlement.NewBasket()
	it := item("oi-1", 5, 1, "10", "0")
	_, err := b.Add(it)
	require.NoError(t, err)
	for _, qty := range []int{3, 9, 4, 5, -1, 2} {
		_, _ = b.UpdateQuantity("oi-1", qty)
		if line, ok := b.Line("oi-1"); ok {
			require.GreaterOrEqual(t, line.Quantity, 1)
			require.LessOrEqual(t, line.Quantity, it.MaxReturnable())
		}
	}
	_, ok := b.Line("oi-1")
	require.False(t, ok, "non-positive quantity removes the line")
}

func TestFullyReturnedItemIsRejected(t *testing.T) {
	b := settlement.NewBasket()
	_, err := b.Add(item("oi-1", 2, 2, "10", "0"))
	require.ErrorIs(t, err, settlement.ErrItemNotReturnable)
	require.True(t, b.IsEmpty())
}

func TestReturnDetails(t *testing.T) {
	b := settlement.NewBasket()
	line, err := b.Add(item("oi-1", 2, 0, "10", "0"))
	require.NoError(t, err)
	require.Equal(t, settlement.ReasonOther, line.Reason)
	require.Equal(t, settlement.ConditionGood, line.Condition)
	require.Equal(t, settlement.ActionRestock, line.InventoryAction)

	line, err = b.SetDetails("oi-1", settlement.ReasonDefective, settlement.ConditionDamaged, settlement.ActionQuarantine)
	require.NoError(t, err)
	require.Equal(t, settlement.ReasonDefective, line.Reason)

	_, err = b.SetDetails("oi-1", "lost", settlement.ConditionGood, settlement.ActionRestock)
	require.ErrorIs(t, err, settlement.ErrInvalidReturnDetail)
	line, _ = b.Line("oi-1")
	require.Equal(t, settlement.ReasonDefective, line.Reason)

	_, err = b.SetDetails("missing", settlement.ReasonOther, settlement.ConditionGood, settlement.ActionRestock)
	require.ErrorIs(t, err, settlement.ErrReturnLineNotFound)
}

func TestReturnUsesEffectivePrice(t *testing.T) {
	// 4 units at 10 with a 6 line discount: the customer paid 8.5 per unit.
	it := item("oi-1", 4, 0, "10", "6")
	require.True(t, it.EffectiveUnitPrice().Equal(d("8.5")))
	l := settlement.ReturnLine{Item: it, Quantity: 2}
	require.True(t, l.Total().Equal(d("17")))
}

func exchangeLine(price string, qty int) cart.Line {
	return cart.Line{ID: "x", ProductID: "X", UnitType: pricing.UnitPiece, Quantity: qty, UnitPrice: d(price), Discount: decimal.Zero, Currency: "USD"}
}

func TestExchangeWithRefund(t *testing.T) {
	tbl := table(t)
	returns := []settlement.ReturnLine{{Item: item("oi-1", 4, 0, "10", "0"), Quantity: 4}}
	got, err := settlement.ComputeReturnExchange(context.Background(), tbl, returns, []cart.Line{exchangeLine("15", 1)})
	require.NoError(t, err)
	require.True(t, got.ReturnTotal.Equal(d("40")))
	require.True(t, got.ExchangeTotal.Equal(d("15")))
	require.True(t, got.NetAmount.Equal(d("-25")))
	require.Equal(t, settlement.DirectionRefund, got.Direction)
	require.True(t, got.AmountDue().Equal(d("25")))

	_, err = got.ResolveMethod("", "")
	require.ErrorIs(t, err, settlement.ErrRefundMethodRequired)
	m, err := got.ResolveMethod(settlement.RefundStoreCredit, "")
	require.NoError(t, err)
	require.Equal(t, "store_credit", m.Recorded)
}

func TestExchangeWithPaymentAndEven(t *testing.T) {
	tbl := table(t)
	ctx := context.Background()
	returns := []settlement.ReturnLine{{Item: item("oi-1", 1, 0, "10", "0"), Quantity: 1}}

	pay, err := settlement.ComputeReturnExchange(ctx, tbl, returns, []cart.Line{exchangeLine("12", 1)})
	require.NoError(t, err)
	require.Equal(t, settlement.DirectionPayment, pay.Direction)
	_, err = pay.ResolveMethod(settlement.RefundCash, "")
	require.ErrorIs(t, err, settlement.ErrPaymentTypeRequired)
	_, err = pay.ResolveMethod("", settlement.PaymentSplit)
	require.ErrorIs(t, err, settlement.ErrInvalidPaymentType)
	m, err := pay.ResolveMethod("", settlement.PaymentCredit)
	require.NoError(t, err)
	require.Equal(t, "credit", m.Recorded)

	even, err := settlement.ComputeReturnExchange(ctx, tbl, returns, []cart.Line{exchangeLine("150000", 1)})
	require.NoError(t, err)
	require.Equal(t, settlement.DirectionPayment, even.Direction, "USD priced line is not converted")

	lbp := exchangeLine("150000", 1)
	lbp.Currency = "LBP"
	even, err = settlement.ComputeReturnExchange(ctx, tbl, returns, []cart.Line{lbp})
	require.NoError(t, err)
	require.Equal(t, settlement.DirectionEven, even.Direction)
	m, err = even.ResolveMethod("", "")
	require.NoError(t, err)
	require.Equal(t, settlement.MethodNone, m.Recorded)
}

func TestExchangeGuardsOverReturnFirst(t *testing.T) {
	tbl := table(t)
	returns := []settlement.ReturnLine{{Item: item("oi-1", 3, 2, "10", "0"), Quantity: 2}}
	_, err := settlement.ComputeReturnExchange(context.Background(), tbl, returns, nil)
	require.ErrorIs(t, err, settlement.ErrOverReturn)

	_, err = settlement.ComputeReturnExchange(context.Background(), tbl, nil, nil)
	require.ErrorIs(t, err, settlement.ErrEmptySettlement)
}

func TestExchangeCapsRepeatedOrderItemTogether(t *testing.T) {
	tbl := table(t)
	it := item("oi-1", 3, 2, "10", "0")
	returns := []settlement.ReturnLine{
		{Item: it, Quantity: 1},
		{Item: it, Quantity: 1},
		{Item: it, Quantity: 1},
	}
	_, err := settlement.ComputeReturnExchange(context.Background(), tbl, returns, nil)
	require.ErrorIs(t, err, settlement.ErrOverReturn)

	got, err := settlement.ComputeReturnExchange(context.Background(), tbl, returns[:1], nil)
	require.NoError(t, err)
	require.True(t, got.ReturnTotal.Equal(d("10")))
}

func TestParseRefundMethod(t *testing.T) {
	m, err := settlement.ParseRefundMethod(" Store_Credit ")
	require.NoError(t, err)
	require.Equal(t, settlement.RefundStoreCredit, m)
	_, err = settlement.ParseRefundMethod("voucher")
	require.ErrorIs(t, err, settlement.ErrInvalidRefundMethod)
}
