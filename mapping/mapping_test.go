package mapping_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/barre/charge"
	"github.com/xraph/barre/mapping"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		m      mapping.Mapping
		fields []string
	}{
		{
			name: "empty mapping is valid",
			m:    mapping.Mapping{},
		},
		{
			name: "full mapping",
			m: mapping.Mapping{
				ChargeAccounts: map[charge.Kind]string{
					charge.KindTuition:     "4000",
					charge.KindCompetition: "4100",
				},
				DepositAccount: "1200",
				TaxCode:        "NON",
			},
		},
		{
			name: "unknown kind",
			m: mapping.Mapping{
				ChargeAccounts: map[charge.Kind]string{"lessons": "4000"},
			},
			fields: []string{"charge_accounts[lessons]"},
		},
		{
			name: "blank account",
			m: mapping.Mapping{
				ChargeAccounts: map[charge.Kind]string{charge.KindCostume: ""},
			},
			fields: []string{"charge_accounts[costume]"},
		},
		{
			name: "overlong deposit and bad tax code",
			m: mapping.Mapping{
				DepositAccount: strings.Repeat("9", 65),
				TaxCode:        "tax code!",
			},
			fields: []string{"deposit_account", "tax_code"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := mapping.Validate(tt.m)
			got := make([]string, 0, len(errs))
			for _, e := range errs {
				got = append(got, e.Field)
				assert.NotEmpty(t, e.Message)
			}
			assert.ElementsMatch(t, tt.fields, got)
		})
	}
}

func TestChargeAccount(t *testing.T) {
	m := mapping.Mapping{
		ChargeAccounts: map[charge.Kind]string{charge.KindTuition: "4000"},
	}

	account, ok := m.ChargeAccount(&charge.Charge{Kind: charge.KindTuition})
	require.True(t, ok)
	assert.Equal(t, "4000", account)

	account, ok = m.ChargeAccount(&charge.Charge{Kind: charge.KindTuition, AccountingCode: " 4050 "})
	require.True(t, ok)
	assert.Equal(t, "4050", account)

	_, ok = m.ChargeAccount(&charge.Charge{Kind: charge.KindCostume})
	assert.False(t, ok)
}

func TestClone(t *testing.T) {
	m := mapping.Mapping{ChargeAccounts: map[charge.Kind]string{charge.KindTuition: "4000"}}
	c := m.Clone()
	c.ChargeAccounts[charge.KindTuition] = "9999"
	assert.Equal(t, "4000", m.ChargeAccounts[charge.KindTuition])
}
