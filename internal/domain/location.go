package domain

// Party describes an agent or recipient of a transaction or action.
type Party struct {
	TypeOf string `json:"typeOf"`
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	URL    string `json:"url,omitempty"`
}

// LocationType tags the kind of place money moves from or to.
type LocationType string

const (
	// LocationAccount is a coin ledger account, addressed by account number.
	LocationAccount LocationType = "Account"
	// LocationPaymentMethod is a bank account on the payment-method ledger.
	LocationPaymentMethod LocationType = "PaymentMethod"
	// LocationAnonymous is a party outside any ledger, e.g. a cash payout.
	LocationAnonymous LocationType = "Anonymous"
)

// Location is a tagged variant: AccountNumber is set for Account and
// PaymentMethod locations, Name for Anonymous ones.
type Location struct {
	TypeOf        LocationType `json:"typeOf"`
	AccountNumber string       `json:"accountNumber,omitempty"`
	Name          string       `json:"name,omitempty"`
}
