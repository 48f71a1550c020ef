// Package mapping holds a studio's translation from ledger concepts to
// accounting-provider account codes.
package mapping

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/xraph/barre/charge"
)

// Mapping is stored on the accounting connection it applies to.
type Mapping struct {
	// ChargeAccounts maps a charge kind to the provider income account or
	// item code used for its invoices.
	ChargeAccounts map[charge.Kind]string `json:"charge_accounts,omitempty" validate:"omitempty,dive,keys,oneof=tuition costume competition recital other,endkeys,required,max=64,printascii"`

	// DepositAccount receives payments that are not applied to an invoice.
	DepositAccount string `json:"deposit_account,omitempty" validate:"omitempty,max=64,printascii"`

	// TaxCode is passed through on every invoice line when set.
	TaxCode string `json:"tax_code,omitempty" validate:"omitempty,max=32,alphanum"`
}

// FieldError is a single invalid mapping entry.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks m and returns one FieldError per problem, or nil.
func Validate(m Mapping) []FieldError {
	err := validate.Struct(m)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "mapping", Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Field:   fieldPath(fe.Namespace()),
			Message: describe(fe),
		})
	}
	return out
}

// ChargeAccount resolves the account for a charge. A per-charge
// accounting code wins over the kind mapping.
func (m Mapping) ChargeAccount(c *charge.Charge) (string, bool) {
	if code := strings.TrimSpace(c.AccountingCode); code != "" {
		return code, true
	}
	account, ok := m.ChargeAccounts[c.Kind]
	return account, ok && account != ""
}

// Clone returns a deep copy.
func (m Mapping) Clone() Mapping {
	out := Mapping{DepositAccount: m.DepositAccount, TaxCode: m.TaxCode}
	if m.ChargeAccounts != nil {
		out.ChargeAccounts = make(map[charge.Kind]string, len(m.ChargeAccounts))
		for k, v := range m.ChargeAccounts {
			out.ChargeAccounts[k] = v
		}
	}
	return out
}

func fieldPath(namespace string) string {
	// "Mapping.ChargeAccounts[tuition]" -> "charge_accounts[tuition]"
	namespace = strings.TrimPrefix(namespace, "Mapping.")
	switch {
	case strings.HasPrefix(namespace, "ChargeAccounts"):
		return "charge_accounts" + strings.TrimPrefix(namespace, "ChargeAccounts")
	case namespace == "DepositAccount":
		return "deposit_account"
	case namespace == "TaxCode":
		return "tax_code"
	default:
		return namespace
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("unknown charge kind %q", fe.Value())
	case "required":
		return "account code is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "printascii", "alphanum":
		return "contains invalid characters"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
