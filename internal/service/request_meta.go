package service

import (
	"context"
	"time"

	"healthcare-auth/internal/audit"
	"healthcare-auth/internal/models"
)

// RequestMeta identifies the caller for security events
type RequestMeta struct {
	IPAddress string
	UserAgent string
	RequestID string
}

type requestMetaKey struct{}

func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

func requestMetaFrom(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta
}

// eventRecorder fills the request fields and hands the event to the recorder
type eventRecorder struct {
	recorder audit.Recorder
	now      func() time.Time
}

func (r eventRecorder) record(ctx context.Context, typ models.SecurityEventType, account *models.Account, email string, success bool, reason string) {
	if r.recorder == nil {
		return
	}
	meta := requestMetaFrom(ctx)
	e := models.SecurityEvent{
		EventTime: r.now().UTC(),
		EventType: typ,
		Email:     email,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		RequestID: meta.RequestID,
		Success:   success,
		Reason:    reason,
	}
	if account != nil {
		e.AccountID = account.ID.String()
		e.Email = account.Email
	}
	r.recorder.Record(e)
}
