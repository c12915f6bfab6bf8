// Package dispatch sends one personalized message per recipient over a single
// SMTP session and reports a result for every recipient.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/email"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/metrics"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/models"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/render"
)

const (
	// DefaultSubject is used when neither the record nor the batch has one.
	DefaultSubject = "Comunicado"

	emptyEmailDetail = "Correo vacío"
)

// Pacer spaces out send attempts. *rate.Limiter satisfies it.
type Pacer interface {
	Wait(ctx context.Context) error
}

// NewPacer allows one send attempt per delay. A non-positive delay disables pacing.
func NewPacer(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// Batch is everything one dispatch run needs.
type Batch struct {
	Records        []models.RecipientRecord
	Credentials    models.SMTPCredentials
	Attachments    []models.AttachmentFile
	Signature      string
	Template       string
	DefaultSubject string
}

type Engine struct {
	Dialer email.Dialer
	Pacer  Pacer
	Log    *zap.Logger
}

// Run opens one session and sends to every record in order. Only a failure to
// open the session is returned as an error; per-recipient failures are
// reported in the results and never stop the batch.
func (e *Engine) Run(ctx context.Context, b Batch) (models.DispatchReport, error) {

	report := models.DispatchReport{
		BatchID:   uuid.NewString(),
		Sender:    b.Credentials.Email,
		StartedAt: time.Now(),
	}
	log := e.Log.With(zap.String("batch_id", report.BatchID))

	// ----------------------------
	// Open SMTP session
	// ----------------------------
	sess, err := e.Dialer.Dial(ctx, b.Credentials)
	if err != nil {
		metrics.SMTPConnectFailures.Inc()
		log.Error("smtp connection failed",
			zap.String("addr", b.Credentials.Addr()),
			zap.String("user", b.Credentials.Email),
			zap.Error(err),
		)
		return report, err
	}

	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("smtp session close failed", zap.Error(err))
		}
	}()

	attachments := email.PDFAttachments(b.Attachments)
	body, compileErr := render.Compile(b.Template)

	fields := []zap.Field{
		zap.Int("recipients", len(b.Records)),
		zap.Int("attachments", len(attachments)),
		zap.Bool("signature", b.Signature != ""),
	}
	if compileErr != nil {
		fields = append(fields, zap.NamedError("template_error", compileErr))
	} else {
		fields = append(fields, zap.Strings("template_vars", body.Variables()))
	}
	log.Info("dispatch started", fields...)

	report.Results = make([]models.DispatchResult, 0, len(b.Records))

	for i, rec := range b.Records {
		rec.Email = strings.TrimSpace(rec.Email)

		// ----------------------------
		// Cancelled: account for the rest
		// ----------------------------
		if err := ctx.Err(); err != nil {
			report.Results = append(report.Results, failed(rec.Email, err))
			continue
		}

		if rec.Email == "" {
			report.Results = append(report.Results, models.DispatchResult{
				Email:  rec.Email,
				Status: models.StatusError,
				Detail: emptyEmailDetail,
			})
			metrics.EmailFailures.Inc()
			continue
		}

		// ----------------------------
		// Rate Limit
		// ----------------------------
		if err := e.Pacer.Wait(ctx); err != nil {
			report.Results = append(report.Results, failed(rec.Email, err))
			continue
		}

		// ----------------------------
		// Render + Send
		// ----------------------------
		err := e.sendOne(sess, b, body, compileErr, attachments, rec)
		if err != nil {
			log.Error("email send failed",
				zap.Int("index", i),
				zap.String("to", rec.Email),
				zap.Error(err),
			)
			report.Results = append(report.Results, failed(rec.Email, err))
			metrics.EmailFailures.Inc()
			continue
		}

		log.Info("email sent successfully",
			zap.Int("index", i),
			zap.String("to", rec.Email),
		)
		report.Results = append(report.Results, models.DispatchResult{
			Email:  rec.Email,
			Status: models.StatusSent,
		})
		metrics.EmailsSent.Inc()
	}

	report.FinishedAt = time.Now()
	metrics.BatchDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())

	log.Info("dispatch finished",
		zap.Int("sent", report.Sent()),
		zap.Int("failed", report.Failed()),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)

	return report, nil
}

func (e *Engine) sendOne(
	sess email.Session,
	b Batch,
	body *render.Template,
	compileErr error,
	attachments []models.AttachmentFile,
	rec models.RecipientRecord,
) error {

	if compileErr != nil {
		return compileErr
	}

	msg, err := Compose(b, body, rec)
	if err != nil {
		return err
	}
	msg.Attachments = attachments

	return email.Send(sess, msg)
}

// Compose renders the message for one recipient without attachments.
func Compose(b Batch, body *render.Template, rec models.RecipientRecord) (email.Message, error) {

	vars := render.RecipientVars(rec.Name, rec.Email)

	text, err := body.Render(vars)
	if err != nil {
		return email.Message{}, err
	}
	if b.Signature != "" {
		text = text + "\n\n" + b.Signature
	}

	return email.Message{
		From:     b.Credentials.Email,
		FromName: b.Credentials.FromName,
		To:       rec.Email,
		Subject:  Subject(rec, b.DefaultSubject, vars),
		Body:     text,
	}, nil
}

// Subject picks the record subject, then the batch default, then DefaultSubject.
// A record subject is spreadsheet data and is sent as written. The batch
// default may use {{name}} and {{email}}; if it does not render it is sent
// as typed.
func Subject(rec models.RecipientRecord, fallback string, vars map[string]string) string {
	if rec.HasSubject() {
		return rec.Subject
	}
	if fallback == "" {
		return DefaultSubject
	}

	out, err := render.Render(fallback, vars)
	if err != nil {
		return fallback
	}
	return out
}

func failed(to string, err error) models.DispatchResult {
	detail := err.Error()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		detail = "envío cancelado: " + detail
	}
	return models.DispatchResult{Email: to, Status: models.StatusError, Detail: detail}
}
