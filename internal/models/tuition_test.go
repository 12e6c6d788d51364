package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestDeriveTuitionStatus(t *testing.T) {
	cases := []struct {
		name                 string
		fee, sch, disc, paid int64
		want                 TuitionStatus
	}{
		{name: "nothing paid", fee: 500000, want: TuitionStatusUnpaid},
		{name: "partially paid", fee: 500000, paid: 300000, want: TuitionStatusPartial},
		{name: "exactly paid", fee: 500000, paid: 500000, want: TuitionStatusPaid},
		{name: "overpaid", fee: 500000, paid: 600000, want: TuitionStatusPaid},
		{name: "discount nets the fee", fee: 500000, disc: 100000, paid: 400000, want: TuitionStatusPaid},
		{name: "scholarship and discount", fee: 500000, sch: 200000, disc: 100000, paid: 100000, want: TuitionStatusPartial},
		{name: "fully covered reductions", fee: 500000, sch: 400000, disc: 200000, want: TuitionStatusPaid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveTuitionStatus(d(tc.fee), d(tc.sch), d(tc.disc), d(tc.paid)))
		})
	}
}

func TestTuitionOutstanding(t *testing.T) {
	tu := Tuition{FeeAmount: d(500000), ScholarshipAmount: d(100000), PaidAmount: d(150000)}
	assert.True(t, tu.EffectiveFee().Equal(d(400000)))
	assert.True(t, tu.Outstanding().Equal(d(250000)))

	tu.PaidAmount = d(450000)
	assert.True(t, tu.Outstanding().IsZero())

	tu.Recompute()
	assert.Equal(t, TuitionStatusPaid, tu.Status)
}

func TestEffectiveFeeFloorsAtZero(t *testing.T) {
	assert.True(t, EffectiveFee(d(100), d(80), d(50)).IsZero())
}

func TestFormatPeriod(t *testing.T) {
	assert.Equal(t, "2025-07", FormatPeriod(7, 2025))
}
