package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func ptr(v decimal.Decimal) *decimal.Decimal {
	return &v
}

func soap() Product {
	return Product{
		ID:                "p-soap",
		Name:              "Soap",
		BaseUnit:          "pc",
		SecondUnit:        "box",
		UnitsPerSecond:    12,
		RetailPrice:       d("1.500"),
		WholesalePrice:    d("1.200"),
		BoxRetailPrice:    d("16.000"),
		BoxWholesalePrice: d("13.000"),
		CostPrice:         d("1.000"),
		BoxCostPrice:      d("11.000"),
		Currency:          "USD",
	}
}

func TestResolveRetailAndWholesale(t *testing.T) {
	r := Resolver{Book: NewBook()}
	p := soap()

	res, err := r.Resolve(p, UnitPiece, nil)
	require.NoError(t, err)
	require.True(t, res.Price.Equal(d("1.5")))
	require.False(t, res.IsSpecial)
	require.Equal(t, "USD", res.Currency)

	wholesale := &Customer{ID: "c1", CustomerType: "WHOLESALE"}
	res, err = r.Resolve(p, UnitPiece, wholesale)
	require.NoError(t, err)
	require.True(t, res.Price.Equal(d("1.2")))

	res, err = r.Resolve(p, UnitBox, wholesale)
	require.NoError(t, err)
	require.True(t, res.Price.Equal(d("13")))

	retail := &Customer{ID: "c2", CustomerType: "Retail"}
	res, err = r.Resolve(p, UnitBox, retail)
	require.NoError(t, err)
	require.True(t, res.Price.Equal(d("16")))
}

func TestSpecialPriceWinsRegardlessOfType(t *testing.T) {
	book := NewBook(SpecialPriceRow{
		CustomerID:         "c1",
		ProductID:          "p-soap",
		SpecialPrice:       ptr(d("1.100")),
		HasSpecialPrice:    true,
		BoxSpecialPrice:    ptr(d("99")),
		HasBoxSpecialPrice: false,
	})
	r := Resolver{Book: book}
	for _, kind := range []string{"Wholesale", "Retail", ""} {
		res, err := r.Resolve(soap(), UnitPiece, &Customer{ID: "c1", CustomerType: kind})
		require.NoError(t, err)
		require.True(t, res.IsSpecial, kind)
		require.True(t, res.Price.Equal(d("1.1")), kind)
	}

	// the box flag is off, so the box falls back to the type price
	res, err := r.Resolve(soap(), UnitBox, &Customer{ID: "c1", CustomerType: "Wholesale"})
	require.NoError(t, err)
	require.False(t, res.IsSpecial)
	require.True(t, res.Price.Equal(d("13")))
}

func TestResolveRejectsMissingSecondUnit(t *testing.T) {
	p := soap()
	p.SecondUnit = ""
	_, err := Resolver{}.Resolve(p, UnitBox, nil)
	require.ErrorIs(t, err, ErrInvalidUnit)

	_, err = Resolver{}.Resolve(p, UnitType("crate"), nil)
	require.ErrorIs(t, err, ErrInvalidUnit)
}

func TestParseUnitType(t *testing.T) {
	u, err := ParseUnitType("")
	require.NoError(t, err)
	require.Equal(t, UnitPiece, u)
	u, err = ParseUnitType(" Box ")
	require.NoError(t, err)
	require.Equal(t, UnitBox, u)
	_, err = ParseUnitType("pallet")
	require.ErrorIs(t, err, ErrInvalidUnit)
}

func TestFloorAtCost(t *testing.T) {
	p := soap()
	cases := []struct {
		name    string
		unit    UnitType
		entered string
		want    string
		clamped bool
	}{
		{"above cost", UnitPiece, "1.300", "1.3", false},
		{"exactly cost", UnitPiece, "1.000", "1", false},
		{"below cost", UnitPiece, "0.500", "1", true},
		{"literal zero", UnitPiece, "0", "1", true},
		{"box below cost", UnitBox, "10", "11", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, clamped, err := FloorAtCost(p, tc.unit, d(tc.entered))
			require.NoError(t, err)
			require.True(t, got.Equal(d(tc.want)), got.String())
			require.Equal(t, tc.clamped, clamped)
		})
	}

	free := p
	free.CostPrice = decimal.Zero
	got, clamped, err := FloorAtCost(free, UnitPiece, decimal.Zero)
	require.NoError(t, err)
	require.False(t, clamped)
	require.True(t, got.IsZero())
}

func TestBookMutations(t *testing.T) {
	book := NewBook()
	book.Set(SpecialPrice{CustomerID: "c1", ProductID: "p2", UnitType: UnitBox, Price: d("5")})
	book.Set(SpecialPrice{CustomerID: "c1", ProductID: "p1", UnitType: UnitPiece, Price: d("2")})
	book.Set(SpecialPrice{CustomerID: "c1", ProductID: "p1", UnitType: UnitPiece, Price: d("3")})
	book.Set(SpecialPrice{CustomerID: "c9", ProductID: "p1", UnitType: UnitPiece, Price: d("4")})
	require.Equal(t, 3, book.Len())

	list := book.ForCustomer("c1")
	require.Len(t, list, 2)
	require.Equal(t, "p1", list[0].ProductID)
	require.True(t, list[0].Price.Equal(d("3")))

	require.True(t, book.Delete("c1", "p1", UnitPiece))
	require.False(t, book.Delete("c1", "p1", UnitPiece))
	_, ok := book.Lookup("c1", "p1", UnitPiece)
	require.False(t, ok)
}

func TestProductValidate(t *testing.T) {
	require.NoError(t, soap().Validate())

	p := soap()
	p.WholesalePrice = d("-1")
	require.ErrorIs(t, p.Validate(), ErrInvalidProduct)

	p = soap()
	p.UnitsPerSecond = 0
	require.ErrorIs(t, p.Validate(), ErrInvalidProduct)

	p = soap()
	p.ID = " "
	require.ErrorIs(t, p.Validate(), ErrInvalidProduct)
}
