package httpapi

import (
	"github.com/xraph/barre/provider"
)

type wireLine struct {
	Description string `json:"description"`
	AccountCode string `json:"account_code"`
	TaxCode     string `json:"tax_code,omitempty"`
	Amount      string `json:"amount"`
}

type wireApplication struct {
	InvoiceID string `json:"invoice_id,omitempty"`
	Reference string `json:"reference"`
	Amount    string `json:"amount"`
}

// wireObject is the request body shared by all three endpoints. Amounts
// are decimal strings in major units.
type wireObject struct {
	Reference      string            `json:"reference"`
	ExternalRef    string            `json:"external_reference,omitempty"`
	ContactID      string            `json:"contact_id"`
	Date           string            `json:"date"`
	DueDate        string            `json:"due_date,omitempty"`
	Description    string            `json:"description,omitempty"`
	Currency       string            `json:"currency"`
	Amount         string            `json:"amount"`
	Lines          []wireLine        `json:"lines,omitempty"`
	Applications   []wireApplication `json:"applications,omitempty"`
	DepositAccount string            `json:"deposit_account,omitempty"`
}

type objectResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toWire(req *provider.PushRequest) wireObject {
	w := wireObject{
		Reference:      req.TransactionID,
		ContactID:      req.ContactID,
		Date:           req.Date.Format(dateLayout),
		Description:    req.Description,
		Currency:       req.Amount.Currency,
		Amount:         req.Amount.FormatMajor(),
		ExternalRef:    req.Reference,
		DepositAccount: req.DepositAccount,
	}
	if req.DueDate != nil {
		w.DueDate = req.DueDate.Format(dateLayout)
	}
	for _, l := range req.Lines {
		w.Lines = append(w.Lines, wireLine{
			Description: l.Description,
			AccountCode: l.AccountCode,
			TaxCode:     l.TaxCode,
			Amount:      l.Amount.FormatMajor(),
		})
	}
	for _, a := range req.Applications {
		w.Applications = append(w.Applications, wireApplication{
			InvoiceID: a.ExternalInvoiceID,
			Reference: a.ChargeID,
			Amount:    a.Amount.FormatMajor(),
		})
	}
	return w
}
