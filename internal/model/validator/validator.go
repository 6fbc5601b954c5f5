package validator

import (
	"strings"

	"github.com/shopspring/decimal"
	"max.ks1230/grants-portal/internal/entity/submission"
	"max.ks1230/grants-portal/internal/model/customerr"
)

// Tolerance is the allowed absolute difference between the itemized sum and
// the declared total.
var Tolerance = decimal.New(1, -2)

type Validator struct{}

func New() Validator {
	return Validator{}
}

// Validate checks a claim against the current balance of its category.
// It stops at the first failing rule: required fields, charge arithmetic,
// balance ceiling, receipt type.
func (Validator) Validate(claim submission.Claim, balance decimal.Decimal) error {
	if err := requiredFields(claim); err != nil {
		return err
	}
	if err := chargesAddUp(claim.Charges); err != nil {
		return err
	}
	if claim.Charges.Total.GreaterThan(balance) {
		return customerr.Newf(customerr.InsufficientBalance,
			"requested amount %s exceeds your remaining %s grant of %s",
			claim.Charges.Total.StringFixed(2), claim.Category(), balance.StringFixed(2))
	}
	if claim.Receipt == nil || len(claim.Receipt.Data) == 0 {
		return customerr.New(customerr.MissingField, "receipt document is required")
	}
	if !claim.Receipt.Recognized() {
		return customerr.Newf(customerr.UploadRejected, "receipt %q must be a PDF document", claim.Receipt.FileName)
	}
	return nil
}

func requiredFields(c submission.Claim) error {
	if c.Details == nil {
		return missing("submission type")
	}
	event := c.Event()
	checks := []struct {
		field string
		ok    bool
	}{
		{"submitter", present(c.Submitter)},
		{"title", present(c.Title)},
		{"event name", present(event.Name)},
		{"event date", !event.Date.IsZero()},
		{"event venue", present(event.Venue)},
		{"bank account name", present(c.Bank.AccountName)},
		{"bank account number", present(c.Bank.AccountNumber)},
		{"bank routing code", present(c.Bank.RoutingCode)},
		{"declaration", c.DeclarationAccepted},
	}
	for _, ch := range checks {
		if !ch.ok {
			return missing(ch.field)
		}
	}
	if !c.Charges.Total.IsPositive() {
		return missing("total amount")
	}
	return nil
}

func chargesAddUp(ch submission.Charges) error {
	for _, item := range []decimal.Decimal{ch.RegistrationFee, ch.Travel, ch.Lodging} {
		if item.IsNegative() {
			return customerr.New(customerr.ChargeMismatch, "charges cannot be negative")
		}
	}
	sum := ch.Sum()
	if sum.Sub(ch.Total).Abs().GreaterThan(Tolerance) {
		return customerr.Newf(customerr.ChargeMismatch,
			"total amount %s doesn't match sum of individual charges %s",
			ch.Total.StringFixed(2), sum.StringFixed(2))
	}
	return nil
}

func present(s string) bool {
	return strings.TrimSpace(s) != ""
}

func missing(field string) error {
	return customerr.Newf(customerr.MissingField, "%s is required", field)
}
