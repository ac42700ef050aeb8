// Package report admits device error reports and registers device tokens.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/datatypes"

	"entitlement-backend/internal/metrics"
	"entitlement-backend/internal/model"
	"entitlement-backend/internal/notification"
	"entitlement-backend/internal/store"
)

// Outcome is the result class of one submission.
type Outcome string

const (
	Accepted    Outcome = "accepted"
	Duplicate   Outcome = "duplicate"
	RateLimited Outcome = "rate_limited"
	Rejected    Outcome = "rejected"
)

// Rejection reasons.
const (
	ReasonUnauthenticated  = "unauthenticated"
	ReasonForbidden        = "forbidden"
	ReasonMissingRequestID = "missing_request_id"
	ReasonStaleTimestamp   = "stale_timestamp"
	ReasonPayloadTooLarge  = "payload_too_large"
)

// Result is what Admit decided.
type Result struct {
	Outcome  Outcome
	Reason   string
	ReportID int64
}

// Body is the device-supplied report content. Timestamp is Unix milliseconds.
type Body struct {
	Platform          string          `json:"platform"`
	Step              string          `json:"step"`
	ErrorMsg          string          `json:"errorMsg"`
	Screenshot        string          `json:"screenshot"`
	ScreenshotOmitted bool            `json:"screenshotOmitted"`
	State             string          `json:"state"`
	AIAction          string          `json:"aiAction"`
	AIResult          string          `json:"aiResult"`
	Extra             json.RawMessage `json:"extra"`
	Timestamp         *int64          `json:"timestamp"`
}

// Submission is one report request as it arrived.
type Submission struct {
	Bearer         string
	HeaderDeviceID string
	RequestID      string
	Body           Body
}

// Limits tunes admission.
type Limits struct {
	HourlyLimit        int
	MaxSkew            time.Duration
	MaxScreenshotBytes int
}

// Store is the slice of the store intake needs.
type Store interface {
	InsertReport(ctx context.Context, rep *model.ErrorReport) (bool, error)
	FinishReport(ctx context.Context, rep *model.ErrorReport) error
	MarkReport(ctx context.Context, requestID string, status model.ReportStatus, reason string) error
	ListReports(ctx context.Context, f store.ReportFilter) ([]model.ErrorReport, int64, error)
	IncrementRateCounter(ctx context.Context, deviceID string, bucket time.Time) (int, error)
}

// Notifier is told about accepted reports. It must not block.
type Notifier interface {
	Dispatch(alert notification.Alert)
}

type Intake struct {
	store    Store
	tokens   *DeviceTokens
	limits   Limits
	notifier Notifier
	now      func() time.Time
	logger   *slog.Logger
}

func NewIntake(s Store, tokens *DeviceTokens, limits Limits, notifier Notifier, logger *slog.Logger) *Intake {
	return &Intake{store: s, tokens: tokens, limits: limits, notifier: notifier, now: time.Now, logger: logger}
}

func rejected(reason string) *Result {
	return &Result{Outcome: Rejected, Reason: reason}
}

// Admit runs the ordered admission checks. Every check short-circuits; checks
// after the placeholder insert record their verdict on the placeholder row.
// Only store failures are returned as errors.
func (in *Intake) Admit(ctx context.Context, sub Submission) (*Result, error) {
	res, err := in.admit(ctx, sub)
	if err != nil {
		metrics.ReportsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	label := string(res.Outcome)
	if res.Reason != "" {
		label = res.Reason
	}
	metrics.ReportsTotal.WithLabelValues(label).Inc()
	return res, nil
}

func (in *Intake) admit(ctx context.Context, sub Submission) (*Result, error) {
	now := in.now()

	deviceID, err := in.tokens.Authenticate(ctx, sub.Bearer)
	if errors.Is(err, ErrUnauthenticated) {
		return rejected(ReasonUnauthenticated), nil
	}
	if err != nil {
		return nil, err
	}
	if sub.HeaderDeviceID != "" && sub.HeaderDeviceID != deviceID {
		in.logger.Warn("report device id does not match token", "token_device", deviceID, "header_device", sub.HeaderDeviceID)
		return rejected(ReasonForbidden), nil
	}

	requestID := strings.TrimSpace(sub.RequestID)
	if requestID == "" {
		return rejected(ReasonMissingRequestID), nil
	}

	rep := &model.ErrorReport{
		RequestID: requestID,
		DeviceID:  deviceID,
		Status:    model.ReportReceived,
	}
	inserted, err := in.store.InsertReport(ctx, rep)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return &Result{Outcome: Duplicate}, nil
	}

	count, err := in.store.IncrementRateCounter(ctx, deviceID, HourBucket(now))
	if err != nil {
		return nil, err
	}
	if count > in.limits.HourlyLimit {
		return in.refuse(ctx, rep, &Result{Outcome: RateLimited, ReportID: rep.ID}, model.ReportRateLimited)
	}

	body := sub.Body
	if body.Timestamp != nil {
		skew := now.Sub(time.UnixMilli(*body.Timestamp))
		if skew < 0 {
			skew = -skew
		}
		if skew > in.limits.MaxSkew {
			return in.refuse(ctx, rep, &Result{Outcome: Rejected, Reason: ReasonStaleTimestamp, ReportID: rep.ID}, model.ReportRejected)
		}
	}

	if body.Screenshot != "" && DecodedLen(body.Screenshot) > in.limits.MaxScreenshotBytes {
		return in.refuse(ctx, rep, &Result{Outcome: Rejected, Reason: ReasonPayloadTooLarge, ReportID: rep.ID}, model.ReportRejected)
	}

	rep.Platform = body.Platform
	rep.Step = body.Step
	rep.ErrorMsg = body.ErrorMsg
	rep.Screenshot = body.Screenshot
	rep.ScreenshotOmitted = body.ScreenshotOmitted
	rep.State = body.State
	rep.AIAction = body.AIAction
	rep.AIResult = body.AIResult
	if len(body.Extra) > 0 && string(body.Extra) != "null" {
		rep.Extra = datatypes.JSON(body.Extra)
	}
	if body.Timestamp != nil {
		ts := time.UnixMilli(*body.Timestamp)
		rep.ClientTimestamp = &ts
	}
	if err := in.store.FinishReport(ctx, rep); err != nil {
		return nil, err
	}

	if in.notifier != nil {
		in.notifier.Dispatch(notification.Alert{
			ReportID:  rep.ID,
			RequestID: rep.RequestID,
			DeviceID:  rep.DeviceID,
			Platform:  rep.Platform,
			Step:      rep.Step,
			ErrorMsg:  rep.ErrorMsg,
		})
	}
	in.logger.Info("error report accepted", "request_id", requestID, "device_id", deviceID, "platform", body.Platform)
	return &Result{Outcome: Accepted, ReportID: rep.ID}, nil
}

// refuse stamps the verdict on the placeholder so operators can see it.
func (in *Intake) refuse(ctx context.Context, rep *model.ErrorReport, res *Result, status model.ReportStatus) (*Result, error) {
	reason := res.Reason
	if reason == "" {
		reason = string(res.Outcome)
	}
	if err := in.store.MarkReport(ctx, rep.RequestID, status, reason); err != nil {
		return nil, err
	}
	return res, nil
}

// List returns one page of stored reports for operators.
func (in *Intake) List(ctx context.Context, f store.ReportFilter) ([]model.ErrorReport, int64, error) {
	reports, total, err := in.store.ListReports(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list reports: %w", err)
	}
	return reports, total, nil
}

// HourBucket truncates t to the start of its wall-clock hour in UTC.
func HourBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// DecodedLen is the byte length of a base64 document once decoded. A data
// URL prefix is ignored.
func DecodedLen(s string) int {
	if i := strings.Index(s, ";base64,"); i >= 0 {
		s = s[i+len(";base64,"):]
	}
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	return len(s) * 3 / 4
}
