package model

type AgentType string

const (
	AgentRadius AgentType = "radius"
	AgentTVIP   AgentType = "TVIP"
	AgentUsBox  AgentType = "UsBox"
)

// Label is the customer-facing name of the service line.
func (a AgentType) Label() string {
	switch a {
	case AgentRadius:
		return "Интернет"
	case AgentTVIP:
		return "Телевидение"
	default:
		return "Видеонаблюдение"
	}
}

// Account is a single service line under a contract.
type Account struct {
	ID           string    `json:"id"`
	ContractID   string    `json:"contract_id"`
	TariffName   string    `json:"tariff_name"`
	Status       string    `json:"status"`
	Balance      float64   `json:"balance"`
	ServiceRent  float64   `json:"service_rent"`
	CurrentShape float64   `json:"current_shape"`
	AgentType    AgentType `json:"agent_type"`
}

func (a Account) Active() bool {
	return a.Status == "active"
}
