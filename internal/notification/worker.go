package notification

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"entitlement-backend/internal/metrics"
	"entitlement-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Subscriptions is the subscription storage the pool reads and prunes.
type Subscriptions interface {
	ListSubscriptions(ctx context.Context) ([]model.OperatorSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// Alert describes one accepted error report worth telling operators about.
type Alert struct {
	ReportID  int64  `json:"reportId"`
	RequestID string `json:"requestId"`
	DeviceID  string `json:"deviceId"`
	Platform  string `json:"platform,omitempty"`
	Step      string `json:"step,omitempty"`
	ErrorMsg  string `json:"errorMsg,omitempty"`
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan Alert
	subs    Subscriptions
	webpush *webpush.Options
	sender  NotificationSender
	logger  *slog.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, subs Subscriptions, webpushOptions *webpush.Options, logger *slog.Logger) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Alert, size*16),
		subs:    subs,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		logger:  logger,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.logger.Debug("notification worker started", "worker", id)
	for {
		select {
		case alert := <-wp.jobs:
			wp.notifyOperators(ctx, alert)
		case <-ctx.Done():
			wp.logger.Debug("notification worker shutting down", "worker", id)
			return
		}
	}
}

// Dispatch queues an alert. When the queue is full the alert is dropped so
// callers on the request path never block.
func (wp *WorkerPool) Dispatch(alert Alert) {
	select {
	case wp.jobs <- alert:
	default:
		metrics.PushNotificationsTotal.WithLabelValues("dropped").Inc()
		wp.logger.Warn("notification queue full, dropping alert", "request_id", alert.RequestID)
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Alert {
	return wp.jobs
}

func (wp *WorkerPool) notifyOperators(ctx context.Context, alert Alert) {
	subscriptions, err := wp.subs.ListSubscriptions(ctx)
	if err != nil {
		wp.logger.Error("failed to load operator subscriptions", "error", err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		wp.logger.Error("failed to encode alert", "error", err)
		return
	}

	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.OperatorSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		metrics.PushNotificationsTotal.WithLabelValues("error").Inc()
		wp.logger.Warn("failed to send notification", "endpoint", sub.Endpoint, "error", err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		metrics.PushNotificationsTotal.WithLabelValues("expired").Inc()
		wp.logger.Info("subscription expired, deleting", "endpoint", sub.Endpoint)
		if err := wp.subs.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			wp.logger.Error("failed to delete expired subscription", "endpoint", sub.Endpoint, "error", err)
		}
		return
	}
	metrics.PushNotificationsTotal.WithLabelValues("sent").Inc()
}
