package model

import "strings"

const (
	ServiceStatusOn  = "Включена, тарифицируется"
	ServiceStatusOff = "Отключена"
)

var activeServiceStatuses = map[string]struct{}{
	"active":   {},
	"enabled":  {},
	"1":        {},
	"включена": {},
}

// PeriodicService is a recurring billable add-on attached to an account.
type PeriodicService struct {
	ID          string  `json:"id"`
	VGID        string  `json:"vgid"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	Price       float64 `json:"price"`
	TotalCost   float64 `json:"total_cost"`
	Category    string  `json:"category"`
	TariffID    string  `json:"tariff_id"`
	FirstOn     string  `json:"first_on"`
	Comment     *string `json:"comment"`
	Status      *string `json:"status,omitempty"`
}

// Active trusts an explicit status when the billing service sends one and
// otherwise treats a service that is both billed and provisioned as on.
func (s PeriodicService) Active() bool {
	if s.Status != nil && strings.TrimSpace(*s.Status) != "" {
		_, ok := activeServiceStatuses[strings.ToLower(strings.TrimSpace(*s.Status))]
		return ok
	}
	return s.TotalCost > 0 && s.Quantity > 0
}

func (s PeriodicService) StatusText() string {
	if s.Active() {
		return ServiceStatusOn
	}
	return ServiceStatusOff
}
