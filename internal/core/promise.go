package core

import (
	"context"
	"math"
	"strconv"
	"strings"

	"selfcare/internal/model"
)

// OpenPromisePrompt opens the amount prompt for the selected contract.
func (o *Orchestrator) OpenPromisePrompt() (PromisePrompt, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase != PhaseReady {
		return o.promise, ErrNotReady
	}
	contract, ok := CurrentContract(o.contracts, o.selection)
	if !ok {
		return o.promise, ErrNoContract
	}
	o.promise = PromisePrompt{
		Visible:     true,
		Title:       PromisePromptTitle,
		Description: msgAmountRange(o.opts.PromiseMin, o.opts.PromiseMax),
		ContractID:  contract.ID,
		Amount:      o.opts.PromiseInitialAmount,
		Min:         o.opts.PromiseMin,
		Max:         o.opts.PromiseMax,
	}
	return o.promise, nil
}

func (o *Orchestrator) ClosePromisePrompt() {
	o.mu.Lock()
	o.promise = PromisePrompt{}
	o.mu.Unlock()
}

// ParseAmount reads a decimal amount. A decimal comma is accepted.
func ParseAmount(raw string) (float64, error) {
	text := strings.Replace(strings.TrimSpace(raw), ",", ".", 1)
	if text == "" {
		return 0, &ValidationError{Field: "amount", Reason: "required"}
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ValidationError{Field: "amount", Reason: "not a number"}
	}
	return v, nil
}

// ValidateAmount checks the inclusive [min, max] bound. A zero bound is
// not enforced.
func ValidateAmount(v, min, max float64) error {
	if min > 0 && v < min {
		return &ValidationError{Field: "amount", Reason: "below minimum " + strconv.FormatFloat(min, 'f', -1, 64)}
	}
	if max > 0 && v > max {
		return &ValidationError{Field: "amount", Reason: "above maximum " + strconv.FormatFloat(max, 'f', -1, 64)}
	}
	return nil
}

// SubmitPromisePayment validates the amount locally, activates the payment
// and, on success, refreshes silently and closes the prompt. On failure the
// prompt stays open with an inline error.
func (o *Orchestrator) SubmitPromisePayment(ctx context.Context, amountText string) (model.PromisePaymentResponse, error) {
	o.mu.Lock()
	if !o.promise.Visible {
		o.mu.Unlock()
		return model.PromisePaymentResponse{}, ErrPromptClosed
	}
	if o.promise.Pending {
		o.mu.Unlock()
		return model.PromisePaymentResponse{}, ErrBusy
	}
	o.promise.Amount = amountText
	amount, err := ParseAmount(amountText)
	if err == nil {
		err = ValidateAmount(amount, o.promise.Min, o.promise.Max)
	}
	if err != nil {
		o.promise.Error = msgAmountRange(o.promise.Min, o.promise.Max)
		o.mu.Unlock()
		return model.PromisePaymentResponse{}, err
	}
	contractID := o.promise.ContractID
	if contractID == "" {
		o.promise.Error = MsgContractNotFound
		o.mu.Unlock()
		return model.PromisePaymentResponse{}, ErrNoContract
	}
	o.promise.Error = ""
	o.promise.Pending = true
	o.mu.Unlock()

	resp, err := o.api.ActivatePromisePayment(ctx, contractID, model.PromisePaymentRequest{
		Amount:      amount,
		Description: PromiseDescription,
	})
	if err != nil {
		o.log.Error().Err(err).Str("contract_id", contractID).Float64("amount", amount).Msg("promise payment failed")
		o.mu.Lock()
		o.promise.Pending = false
		o.promise.Error = MsgPaymentFailed
		o.failLocked(err, MsgPaymentFailed)
		o.mu.Unlock()
		return model.PromisePaymentResponse{}, err
	}

	o.log.Info().Str("contract_id", contractID).Float64("amount", amount).Str("status", resp.Status).Msg("promise payment activated")
	o.mu.Lock()
	o.notice = MsgPaymentActivated
	o.mu.Unlock()

	if err := o.Refresh(ctx); err != nil {
		o.log.Warn().Err(err).Msg("refresh after promise payment")
	}
	o.ClosePromisePrompt()
	return resp, nil
}
