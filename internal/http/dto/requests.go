package dto

type CreateAccountRequest struct {
	Currency string `json:"currency"`
}

type ExecuteTransferRequest struct {
	FromAccountID  string  `json:"from_account_id"`
	ToAccountID    string  `json:"to_account_id"`
	Amount         string  `json:"amount"` // decimal string
	Currency       string  `json:"currency"`
	Description    *string `json:"description,omitempty"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
}

type CalculateFeesRequest struct {
	Amount          string  `json:"amount"`
	Currency        string  `json:"currency"`
	TransactionType string  `json:"transaction_type"`
	FromCountry     *string `json:"from_country,omitempty"`
	ToCountry       *string `json:"to_country,omitempty"`
}

type FeeRuleRequest struct {
	Name            string  `json:"name"`
	Currency        string  `json:"currency"`
	TransactionType string  `json:"transaction_type"`
	Country         *string `json:"country,omitempty"`
	FixedAmount     string  `json:"fixed_amount"`
	Percent         string  `json:"percent"`
	MinAmount       string  `json:"min_amount"`
	MaxFee          *string `json:"max_fee,omitempty"`
	Active          *bool   `json:"active,omitempty"`
}

type MilestoneRequest struct {
	Title  string `json:"title"`
	Amount string `json:"amount"`
}

type PartyRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"` // seller / mediator
}

type CreateEscrowRequest struct {
	Title              string             `json:"title"`
	Description        *string            `json:"description,omitempty"`
	Currency           string             `json:"currency"`
	Milestones         []MilestoneRequest `json:"milestones"`
	Parties            []PartyRequest     `json:"parties"`
	AutoReleaseEnabled bool               `json:"auto_release_enabled"`
}

type FundMilestoneRequest struct {
	Amount           string `json:"amount"`
	FundingAccountID string `json:"funding_account_id"`
}

type SubmitDeliverableRequest struct {
	URL  string  `json:"url"`
	Note *string `json:"note,omitempty"`
}

type RaiseDisputeRequest struct {
	MilestoneID  *string  `json:"milestone_id,omitempty"`
	Reason       string   `json:"reason"`
	Description  *string  `json:"description,omitempty"`
	EvidenceURLs []string `json:"evidence_urls,omitempty"`
}

type ResolveDisputeRequest struct {
	Resolution    string  `json:"resolution"` // refund_buyer / release_seller / custom_split
	RefundAmount  *string `json:"refund_amount,omitempty"`
	ReleaseAmount *string `json:"release_amount,omitempty"`
}

type CancelEscrowRequest struct {
	Reason *string `json:"reason,omitempty"`
}
