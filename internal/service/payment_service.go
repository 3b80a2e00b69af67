package service

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// orderCodeRe pulls the order code out of a free-form transfer note
var orderCodeRe = regexp.MustCompile(`DH\d+`)

// Webhook outcomes, reported back to the caller for logging. The
// gateway itself always receives an acknowledgement regardless of the
// outcome so it stops retrying.
const (
	WebhookOutcomeConfirmed   = "confirmed"
	WebhookOutcomeAlreadyPaid = "already_paid"
	WebhookOutcomeNotFound    = "order_not_found"
	WebhookOutcomeUnderpaid   = "underpaid"
	WebhookOutcomeIgnored     = "ignored"
)

// WebhookResult describes what a payment notification did
type WebhookResult struct {
	Outcome        string `json:"outcome"`
	OrderCode      string `json:"order_code,omitempty"`
	OrderID        int64  `json:"order_id,omitempty"`
	TasksActivated int64  `json:"tasks_activated,omitempty"`
}

// PaymentService processes inbound bank-transfer notifications
type PaymentService struct {
	orders       OrderStore
	audit        AuditStore
	orchestrator *Orchestrator
	events       EventPublisher
	tolerance    int64
	logger       *zap.Logger
}

// NewPaymentService creates a payment service
func NewPaymentService(
	orders OrderStore,
	audit AuditStore,
	orchestrator *Orchestrator,
	events EventPublisher,
	tolerance int64,
) *PaymentService {
	return &PaymentService{
		orders:       orders,
		audit:        audit,
		orchestrator: orchestrator,
		events:       events,
		tolerance:    tolerance,
		logger:       util.GetLogger(),
	}
}

// ProcessNotification handles one gateway notification. Replays of the
// same notification are harmless: an already-paid order is acknowledged
// without touching anything. Errors are returned only for
// infrastructure failures; business no-ops are regular results.
func (ps *PaymentService) ProcessNotification(ctx context.Context, notif *models.PaymentNotification) (*WebhookResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ProcessNotification")
	defer span.End()

	if !strings.EqualFold(notif.TransferType, "in") {
		util.WebhookNoopTotal.WithLabelValues("outgoing_transfer").Inc()
		return &WebhookResult{Outcome: WebhookOutcomeIgnored}, nil
	}

	code := extractOrderCode(notif)
	if code == "" {
		util.WebhookNoopTotal.WithLabelValues("no_order_code").Inc()
		ps.logger.Info("Notification carries no order code",
			zap.String("content", notif.Content),
			zap.String("reference", notif.ReferenceCode))
		return &WebhookResult{Outcome: WebhookOutcomeIgnored}, nil
	}

	gatewayData, err := json.Marshal(notif)
	if err != nil {
		return nil, err
	}

	conf, err := ps.orders.ConfirmOrderPaymentTx(ctx, code, notif.TransferAmount, ps.tolerance, gatewayData)
	if err != nil {
		return nil, err
	}

	result := &WebhookResult{OrderCode: code}
	if conf.Order != nil {
		result.OrderID = conf.Order.ID
	}

	switch conf.Outcome {
	case store.PaymentOrderNotFound:
		util.WebhookNoopTotal.WithLabelValues("order_not_found").Inc()
		ps.logger.Info("Notification for unknown order", zap.String("order_code", code))
		result.Outcome = WebhookOutcomeNotFound
		return result, nil

	case store.PaymentAlreadyPaid:
		util.WebhookNoopTotal.WithLabelValues("already_paid").Inc()
		ps.logger.Info("Replayed notification for paid order",
			zap.String("order_code", code),
			zap.Int64("order_id", conf.Order.ID))
		result.Outcome = WebhookOutcomeAlreadyPaid
		return result, nil

	case store.PaymentUnderpaid:
		util.WebhookNoopTotal.WithLabelValues("underpaid").Inc()
		ps.logger.Warn("Transfer amount below order total",
			zap.String("order_code", code),
			zap.Int64("expected", conf.ExpectedAmount),
			zap.Int64("received", conf.ReceivedAmount))
		ps.recordAudit(ctx, conf.Order, "payment_underpaid", "warn",
			"transfer amount below order total")
		result.Outcome = WebhookOutcomeUnderpaid
		return result, nil
	}

	// confirmed: the order is paid and its tasks are processing
	util.OrdersPaidTotal.Inc()
	result.Outcome = WebhookOutcomeConfirmed
	result.TasksActivated = conf.TasksActivated

	ps.logger.Info("Payment confirmed",
		zap.String("order_code", code),
		zap.Int64("order_id", conf.Order.ID),
		zap.Int64("amount", notif.TransferAmount),
		zap.Int64("tasks_activated", conf.TasksActivated))

	ps.recordAudit(ctx, conf.Order, "payment_confirmed", "info", "order marked paid")

	if err := ps.events.PublishOrderPaid(ctx, conf.Order, notif, conf.TasksActivated); err != nil {
		ps.logger.Error("Failed to publish order paid event", zap.Error(err))
	}

	// fulfillment runs after the payment transaction has committed and
	// never holds up the gateway acknowledgement
	orderID := conf.Order.ID
	go func() {
		fctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		ps.orchestrator.ProcessOrder(fctx, orderID)
	}()

	return result, nil
}

// extractOrderCode takes the structured code field when present and
// falls back to scanning the transfer note
func extractOrderCode(notif *models.PaymentNotification) string {
	if code := strings.ToUpper(strings.TrimSpace(notif.Code)); code != "" {
		return code
	}
	return orderCodeRe.FindString(strings.ToUpper(notif.Content))
}

func (ps *PaymentService) recordAudit(ctx context.Context, order *models.Order, eventType, severity, message string) {
	if order == nil {
		return
	}
	if err := ps.audit.RecordFulfillmentEvent(ctx, &order.ID, nil, eventType, severity, message); err != nil {
		ps.logger.Warn("Failed to record audit event",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}
