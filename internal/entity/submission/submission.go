package submission

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"max.ks1230/grants-portal/internal/entity/grant"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

type Event struct {
	Name     string    `json:"name"`
	Date     time.Time `json:"date"`
	Venue    string    `json:"venue"`
	Deadline time.Time `json:"deadline"`
}

type BankInfo struct {
	AccountName   string `json:"accountName"`
	AccountNumber string `json:"accountNumber"`
	RoutingCode   string `json:"routingCode"`
}

type Applicant struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type Charges struct {
	RegistrationFee decimal.Decimal `json:"registrationFee"`
	Travel          decimal.Decimal `json:"travel"`
	Lodging         decimal.Decimal `json:"lodging"`
	Total           decimal.Decimal `json:"total"`
}

func (c Charges) Sum() decimal.Decimal {
	return c.RegistrationFee.Add(c.Travel).Add(c.Lodging)
}

// Details is the category-specific part of a claim. Only ResearchDetails and
// JournalDetails implement it.
type Details interface {
	Category() grant.Category
	EventInfo() Event
	isDetails()
}

// ResearchDetails describes a conference the paper was presented at.
type ResearchDetails struct {
	Conference Event
}

func (ResearchDetails) Category() grant.Category { return grant.Research }
func (d ResearchDetails) EventInfo() Event       { return d.Conference }
func (ResearchDetails) isDetails()               {}

// JournalDetails describes the journal that published the paper.
type JournalDetails struct {
	Journal Event
	ISSN    string
}

func (JournalDetails) Category() grant.Category { return grant.Journal }
func (d JournalDetails) EventInfo() Event       { return d.Journal }
func (JournalDetails) isDetails()               {}

// Document is an uploaded receipt before it reaches the document store.
type Document struct {
	FileName    string
	ContentType string
	Data        []byte
}

const pdfExt = ".pdf"

// Recognized reports whether the document looks like a PDF by its declared
// type or file name. Content is not inspected.
func (d *Document) Recognized() bool {
	if d == nil {
		return false
	}
	ext := strings.ToLower(filepath.Ext(d.FileName))
	switch strings.ToLower(d.ContentType) {
	case "application/pdf":
		return true
	case "application/octet-stream":
		return ext == pdfExt
	}
	return ext == pdfExt
}

// Claim is a typed request to spend grant money. Build it with
// NewResearchClaim or NewJournalClaim.
type Claim struct {
	Submitter           string
	Applicant           Applicant
	Title               string
	Details             Details
	Bank                BankInfo
	Charges             Charges
	CoAuthorCount       int
	DeclarationAccepted bool
	Receipt             *Document
}

func NewResearchClaim(submitter string, conference Event) Claim {
	return Claim{Submitter: submitter, Details: ResearchDetails{Conference: conference}}
}

func NewJournalClaim(submitter string, journal Event, issn string) Claim {
	return Claim{Submitter: submitter, Details: JournalDetails{Journal: journal, ISSN: issn}}
}

func (c Claim) Category() grant.Category {
	if c.Details == nil {
		return ""
	}
	return c.Details.Category()
}

func (c Claim) Event() Event {
	if c.Details == nil {
		return Event{}
	}
	return c.Details.EventInfo()
}

// Submission is an accepted claim as stored in the ledger.
type Submission struct {
	ID                    string          `json:"id"`
	Submitter             string          `json:"submitter"`
	Applicant             Applicant       `json:"applicant"`
	Category              grant.Category  `json:"category"`
	Title                 string          `json:"title"`
	Event                 Event           `json:"event"`
	ISSN                  string          `json:"issn,omitempty"`
	Bank                  BankInfo        `json:"bank"`
	Charges               Charges         `json:"charges"`
	CoAuthorCount         int             `json:"coAuthorCount"`
	ReceiptRef            string          `json:"receiptRef"`
	DeclarationAccepted   bool            `json:"declarationAccepted"`
	Status                Status          `json:"status"`
	RemainingBalanceAfter decimal.Decimal `json:"remainingBalanceAfter"`
	CreatedAt             time.Time       `json:"createdAt"`
}

// FromClaim builds the pending record for an accepted claim.
func FromClaim(id string, c Claim, receiptRef string, remainingAfter decimal.Decimal, created time.Time) Submission {
	s := Submission{
		ID:                    id,
		Submitter:             c.Submitter,
		Applicant:             c.Applicant,
		Category:              c.Category(),
		Title:                 c.Title,
		Event:                 c.Event(),
		Bank:                  c.Bank,
		Charges:               c.Charges,
		CoAuthorCount:         c.CoAuthorCount,
		ReceiptRef:            receiptRef,
		DeclarationAccepted:   c.DeclarationAccepted,
		Status:                StatusPending,
		RemainingBalanceAfter: remainingAfter,
		CreatedAt:             created,
	}
	if j, ok := c.Details.(JournalDetails); ok {
		s.ISSN = j.ISSN
	}
	return s
}

// AcceptedEvent is published once a submission has been committed.
type AcceptedEvent struct {
	SubmissionID          string          `json:"submissionId"`
	Submitter             string          `json:"submitter"`
	Category              grant.Category  `json:"category"`
	Total                 decimal.Decimal `json:"total"`
	RemainingBalanceAfter decimal.Decimal `json:"remainingBalanceAfter"`
	CreatedAt             time.Time       `json:"createdAt"`
}

func (s Submission) AcceptedEvent() AcceptedEvent {
	return AcceptedEvent{
		SubmissionID:          s.ID,
		Submitter:             s.Submitter,
		Category:              s.Category,
		Total:                 s.Charges.Total,
		RemainingBalanceAfter: s.RemainingBalanceAfter,
		CreatedAt:             s.CreatedAt,
	}
}
