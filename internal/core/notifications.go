package core

import (
	"context"
	"errors"
	"strings"

	"selfcare/internal/notify"
)

var _ notify.Handler = (*Orchestrator)(nil)

func (o *Orchestrator) OnLowBalance(_ context.Context, n notify.LowBalance) {
	o.mu.Lock()
	o.notice = msgLowBalance(n.Balance)
	o.mu.Unlock()
}

func (o *Orchestrator) OnPaymentReceived(ctx context.Context, n notify.PaymentReceived) {
	o.refreshOnPush(ctx, n.Kind())
}

func (o *Orchestrator) OnServiceBlocked(ctx context.Context, n notify.ServiceBlocked) {
	o.refreshOnPush(ctx, n.Kind())
}

func (o *Orchestrator) OnMaintenance(_ context.Context, n notify.Maintenance) {
	msg := strings.TrimSpace(n.Message)
	if msg == "" {
		msg = MsgMaintenance
	}
	o.mu.Lock()
	o.notice = msg
	o.mu.Unlock()
}

func (o *Orchestrator) refreshOnPush(ctx context.Context, kind notify.Kind) {
	err := o.Refresh(ctx)
	if err == nil || errors.Is(err, ErrNotReady) || errors.Is(err, ErrStaleLoad) {
		return
	}
	o.log.Warn().Err(err).Str("kind", string(kind)).Msg("refresh after notification")
}
