package model

type ContractStatus string

const (
	ContractActive ContractStatus = "active"
)

// Contract is a snapshot from the billing service. It is replaced wholesale
// on every fetch.
type Contract struct {
	ID            string         `json:"id"`
	Number        string         `json:"number"`
	Balance       float64        `json:"balance"`
	Status        ContractStatus `json:"status"`
	AccountsCount int            `json:"accounts_count"`
	// ClientName is only sent by some billing deployments.
	ClientName string `json:"client_name,omitempty"`
}

type Balance struct {
	Balance float64 `json:"balance"`
}
