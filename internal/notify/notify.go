// Package notify decodes push payloads into a closed set of notification
// kinds and routes each kind to its handler method.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	ErrUnknownKind  = errors.New("unknown notification kind")
	ErrEmptyPayload = errors.New("notification has no payload")
)

type Kind string

const (
	KindLowBalance      Kind = "low_balance"
	KindPaymentReceived Kind = "payment_received"
	KindServiceBlocked  Kind = "service_blocked"
	KindMaintenance     Kind = "maintenance"
)

// Notification is implemented only by the payload types in this package.
type Notification interface {
	Kind() Kind
	sealed()
}

type LowBalance struct {
	ContractID string  `json:"contract_id,omitempty"`
	Balance    float64 `json:"balance"`
	Threshold  float64 `json:"threshold,omitempty"`
}

type PaymentReceived struct {
	ContractID string  `json:"contract_id,omitempty"`
	Amount     float64 `json:"amount"`
}

type ServiceBlocked struct {
	ContractID string `json:"contract_id,omitempty"`
	AccountID  string `json:"account_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type Maintenance struct {
	Message string `json:"message,omitempty"`
	Until   string `json:"until,omitempty"`
}

func (LowBalance) Kind() Kind      { return KindLowBalance }
func (PaymentReceived) Kind() Kind { return KindPaymentReceived }
func (ServiceBlocked) Kind() Kind  { return KindServiceBlocked }
func (Maintenance) Kind() Kind     { return KindMaintenance }

func (LowBalance) sealed()      {}
func (PaymentReceived) sealed() {}
func (ServiceBlocked) sealed()  {}
func (Maintenance) sealed()     {}

// Decode reads a push message. The envelope is taken from "userInfo" and,
// when that is absent, from "data"; it carries {"type": ..., "data": {...}}.
func Decode(raw []byte) (Notification, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("decode notification: invalid json")
	}
	envelope := gjson.GetBytes(raw, "userInfo")
	if !envelope.IsObject() {
		envelope = gjson.GetBytes(raw, "data")
	}
	if !envelope.IsObject() {
		return nil, ErrEmptyPayload
	}

	kind := Kind(strings.TrimSpace(envelope.Get("type").String()))
	data := envelope.Get("data")
	switch kind {
	case KindLowBalance:
		return LowBalance{
			ContractID: data.Get("contract_id").String(),
			Balance:    data.Get("balance").Float(),
			Threshold:  data.Get("threshold").Float(),
		}, nil
	case KindPaymentReceived:
		return PaymentReceived{
			ContractID: data.Get("contract_id").String(),
			Amount:     data.Get("amount").Float(),
		}, nil
	case KindServiceBlocked:
		return ServiceBlocked{
			ContractID: data.Get("contract_id").String(),
			AccountID:  data.Get("account_id").String(),
			Reason:     data.Get("reason").String(),
		}, nil
	case KindMaintenance:
		return Maintenance{
			Message: data.Get("message").String(),
			Until:   data.Get("until").String(),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, string(kind))
	}
}

type Handler interface {
	OnLowBalance(ctx context.Context, n LowBalance)
	OnPaymentReceived(ctx context.Context, n PaymentReceived)
	OnServiceBlocked(ctx context.Context, n ServiceBlocked)
	OnMaintenance(ctx context.Context, n Maintenance)
}

func Dispatch(ctx context.Context, h Handler, n Notification) error {
	switch v := n.(type) {
	case LowBalance:
		h.OnLowBalance(ctx, v)
	case PaymentReceived:
		h.OnPaymentReceived(ctx, v)
	case ServiceBlocked:
		h.OnServiceBlocked(ctx, v)
	case Maintenance:
		h.OnMaintenance(ctx, v)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownKind, n)
	}
	return nil
}

// Handle decodes raw and dispatches it.
func Handle(ctx context.Context, h Handler, raw []byte) (Notification, error) {
	n, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return n, Dispatch(ctx, h, n)
}
