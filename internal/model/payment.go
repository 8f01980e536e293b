package model

import "encoding/json"

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type PromisePaymentRequest struct {
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
}

type PromisePaymentResponse struct {
	Status     string          `json:"status"`
	ContractID int64           `json:"contract_id"`
	Amount     float64         `json:"amount"`
	Result     json.RawMessage `json:"result"`
	Message    string          `json:"message,omitempty"`
}

type Health struct {
	Status string `json:"status"`
}
