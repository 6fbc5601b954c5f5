package grant

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Category string

const (
	Research Category = "research"
	Journal  Category = "journal"
)

var categories = []Category{Research, Journal}

func Categories() []Category {
	return append([]Category(nil), categories...)
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case Research, Journal:
		return c, nil
	}
	return "", fmt.Errorf("unknown grant category %q", s)
}

// Title is the human-readable name used in messages.
func (c Category) Title() string {
	switch c {
	case Research:
		return "Research"
	case Journal:
		return "Journal"
	}
	return string(c)
}

// Defaults holds the annual allowance per category.
type Defaults struct {
	Research decimal.Decimal
	Journal  decimal.Decimal
}

func DefaultAllowances() Defaults {
	return Defaults{
		Research: decimal.NewFromInt(20000),
		Journal:  decimal.NewFromInt(30000),
	}
}

func (d Defaults) For(c Category) decimal.Decimal {
	if c == Journal {
		return d.Journal
	}
	return d.Research
}

// Record is the per-user balance state. LastGrantYear is the calendar year
// of the most recent reset or initialization.
type Record struct {
	Email             string
	RemainingResearch decimal.Decimal
	RemainingJournal  decimal.Decimal
	LastGrantYear     int
}

func NewRecord(email string, defaults Defaults, year int) Record {
	return Record{
		Email:             email,
		RemainingResearch: defaults.Research,
		RemainingJournal:  defaults.Journal,
		LastGrantYear:     year,
	}
}

func (r Record) Remaining(c Category) decimal.Decimal {
	if c == Journal {
		return r.RemainingJournal
	}
	return r.RemainingResearch
}

func (r Record) WithRemaining(c Category, amount decimal.Decimal) Record {
	if c == Journal {
		r.RemainingJournal = amount
	} else {
		r.RemainingResearch = amount
	}
	return r
}

func (r Record) NeedsReset(year int) bool {
	return r.LastGrantYear != year
}

// Reset restores both categories since LastGrantYear is shared between them.
func (r Record) Reset(defaults Defaults, year int) Record {
	r.RemainingResearch = defaults.Research
	r.RemainingJournal = defaults.Journal
	r.LastGrantYear = year
	return r
}

// Profile is what registration stores besides the balances.
type Profile struct {
	Email        string
	Name         string
	Role         string
	Designation  string
	Phone        string
	PasswordHash string
	// PictureRef points at the profile picture in the document store, empty
	// when none was uploaded.
	PictureRef string
}
