// Package workflow drives the upload → map → confirm → send steps of one
// operator session.
package workflow

import (
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/credentials"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/dispatch"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/email"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/metrics"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/models"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/render"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/session"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/sheet"
)

const (
	sampleRows     = 10
	previewSamples = 5

	previewErrorSubject = "(error)"
	previewErrorPrefix  = "Error al renderizar: "
)

// Dispatcher runs one batch. *dispatch.Engine satisfies it.
type Dispatcher interface {
	Run(ctx context.Context, b dispatch.Batch) (models.DispatchReport, error)
}

// SignatureSource yields the signature text appended to every message.
type SignatureSource interface {
	Load() string
}

// HistoryRecorder persists finished reports.
type HistoryRecorder interface {
	RecordReport(ctx context.Context, r models.DispatchReport) error
}

type Controller struct {
	Sessions    session.Store
	Credentials *credentials.Store
	Signature   SignatureSource
	Dispatcher  Dispatcher

	// History is optional.
	History HistoryRecorder

	UploadDir        string
	FilterIncomplete bool

	Log *zap.Logger
}

// ----------------------------
// Step payloads
// ----------------------------

type Upload struct {
	Filename       string
	Content        io.Reader
	Template       string
	DefaultSubject string
}

// Preview is the result of Prepare: the detected columns and the first rows.
type Preview struct {
	Columns []string    `json:"columns"`
	Sample  []sheet.Row `json:"sample"`
	Total   int         `json:"total"`
}

// Sample is one rendered message shown before sending.
type Sample struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Defaults prefill the SMTP fields of the send form.
type Defaults struct {
	SMTPEmail       string `json:"smtp_email"`
	SMTPAppPassword string `json:"smtp_app_password"`
	FromName        string `json:"from_name"`
	SMTPHost        string `json:"smtp_host"`
	SMTPPort        string `json:"smtp_port"`
}

// Confirmation is the result of Map and Confirm.
type Confirmation struct {
	Samples  []Sample `json:"samples"`
	Total    int      `json:"total"`
	Defaults Defaults `json:"defaults"`
}

// SendRequest carries the raw form values of the send step.
type SendRequest struct {
	Email       string
	AppPassword string
	FromName    string
	Host        string
	Port        string
	Attachments []models.AttachmentFile
	Remember    bool
}

// ----------------------------
// Steps
// ----------------------------

// Prepare stores the uploaded spreadsheet and starts a new workflow for sid.
func (c *Controller) Prepare(ctx context.Context, sid string, up Upload) (_ *Preview, err error) {
	defer observe("prepare", &err)

	if up.Content == nil || strings.TrimSpace(up.Filename) == "" {
		return nil, validation(msgMissingFile)
	}
	if !sheet.AllowedExtension(up.Filename) {
		return nil, validation(msgUnsupported)
	}

	path, err := saveUpload(c.UploadDir, up.Filename, up.Content)
	if err != nil {
		return nil, err
	}

	table, err := sheet.Read(path)
	if err != nil {
		c.removeUpload(path)
		return nil, wrap(msgUnreadable, err)
	}

	snap := &models.UploadSession{
		FilePath:        path,
		OriginalName:    up.Filename,
		MessageTemplate: up.Template,
		DefaultSubject:  up.DefaultSubject,
		Columns:         table.Columns,
		CreatedAt:       time.Now(),
	}

	var previous string
	if prev, err := c.Sessions.Get(ctx, sid); err == nil {
		previous = prev.FilePath
	}

	if err := c.Sessions.Set(ctx, sid, snap); err != nil {
		c.removeUpload(path)
		return nil, err
	}

	// a new upload replaces the session's previous file
	if previous != "" && previous != path {
		c.removeUpload(previous)
	}

	c.Log.Info("upload prepared",
		zap.String("session_id", sid),
		zap.String("file", up.Filename),
		zap.Int("columns", len(table.Columns)),
		zap.Int("rows", len(table.Rows)),
	)

	return &Preview{
		Columns: table.Columns,
		Sample:  table.Sample(sampleRows),
		Total:   len(table.Rows),
	}, nil
}

// Map re-reads the uploaded file, builds the recipient list and renders the
// first previews. The template and default subject come from the stored
// snapshot taken by Prepare.
func (c *Controller) Map(ctx context.Context, sid string, m sheet.Mapping) (_ *Confirmation, err error) {
	defer observe("map", &err)

	snap, err := c.load(ctx, sid)
	if err != nil {
		return nil, err
	}
	if snap.FilePath == "" {
		return nil, expired()
	}

	table, err := sheet.Read(snap.FilePath)
	if err != nil {
		return nil, wrap(msgUnreadable, err)
	}

	records, err := sheet.MapRecipients(table, m)
	if errors.Is(err, sheet.ErrUnknownColumn) {
		if snap.Mapped() {
			snap.Records = nil
			if err := c.Sessions.Set(ctx, sid, snap); err != nil {
				return nil, err
			}
		}
		return nil, validation(msgBadColumns)
	}
	if err != nil {
		return nil, err
	}

	if c.FilterIncomplete {
		kept := sheet.DropIncomplete(records)
		if dropped := len(records) - len(kept); dropped > 0 {
			c.Log.Info("incomplete rows dropped",
				zap.String("session_id", sid),
				zap.Int("dropped", dropped),
			)
		}
		records = kept
	}

	snap.Columns = table.Columns
	snap.EmailCol = m.EmailCol
	snap.NameCol = m.NameCol
	snap.SubjectCol = m.SubjectCol
	snap.Records = records

	if err := c.Sessions.Set(ctx, sid, snap); err != nil {
		return nil, err
	}

	c.Log.Info("columns mapped",
		zap.String("session_id", sid),
		zap.String("email_col", m.EmailCol),
		zap.String("name_col", m.NameCol),
		zap.String("subject_col", m.SubjectCol),
		zap.Int("recipients", len(records)),
	)

	return c.confirmation(snap), nil
}

// Confirm rebuilds the confirmation view from the mapped state.
func (c *Controller) Confirm(ctx context.Context, sid string) (_ *Confirmation, err error) {
	defer observe("confirm", &err)

	snap, err := c.load(ctx, sid)
	if err != nil {
		return nil, err
	}
	if !snap.Mapped() {
		return nil, validation(msgNoRecipients)
	}

	return c.confirmation(snap), nil
}

// Send dispatches the mapped recipients. A report is returned even when some
// or all recipients failed; only a failed SMTP connection is an error.
func (c *Controller) Send(ctx context.Context, sid string, req SendRequest) (_ *models.DispatchReport, err error) {
	defer observe("send", &err)

	snap, err := c.load(ctx, sid)
	if err != nil {
		return nil, err
	}
	if !snap.Mapped() {
		return nil, validation(msgNoRecipients)
	}

	creds, err := req.credentials()
	if err != nil {
		return nil, err
	}

	batch := dispatch.Batch{
		Records:        snap.Records,
		Credentials:    creds,
		Attachments:    email.PDFAttachments(req.Attachments),
		Signature:      c.Signature.Load(),
		Template:       snap.MessageTemplate,
		DefaultSubject: snap.DefaultSubject,
	}

	report, err := c.Dispatcher.Run(ctx, batch)
	if err != nil {
		return nil, wrap(msgConnectionError, err)
	}

	// ----------------------------
	// Remember credentials
	// ----------------------------
	if req.Remember {
		if err := c.Credentials.Remember(creds); err != nil {
			c.Log.Error("failed to persist smtp credentials",
				zap.String("path", c.Credentials.Path),
				zap.String("user", creds.Email),
				zap.Error(err),
			)
		}
	}

	// ----------------------------
	// History
	// ----------------------------
	if c.History != nil {
		if err := c.History.RecordReport(ctx, report); err != nil {
			c.Log.Warn("failed to record dispatch report",
				zap.String("batch_id", report.BatchID),
				zap.Error(err),
			)
		}
	}

	return &report, nil
}

// Reset drops the workflow state of sid.
func (c *Controller) Reset(ctx context.Context, sid string) error {

	snap, getErr := c.Sessions.Get(ctx, sid)

	if err := c.Sessions.Clear(ctx, sid); err != nil {
		return err
	}
	if getErr == nil {
		c.removeUpload(snap.FilePath)
	}
	return nil
}

// ----------------------------
// Helpers
// ----------------------------

func (c *Controller) load(ctx context.Context, sid string) (*models.UploadSession, error) {
	snap, err := c.Sessions.Get(ctx, sid)
	if errors.Is(err, session.ErrNotFound) {
		return nil, expired()
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (c *Controller) confirmation(snap *models.UploadSession) *Confirmation {
	return &Confirmation{
		Samples:  Previews(snap.MessageTemplate, snap.DefaultSubject, snap.Records, previewSamples),
		Total:    len(snap.Records),
		Defaults: c.defaults(),
	}
}

func (c *Controller) defaults() Defaults {
	d := c.Credentials.Defaults()
	return Defaults{
		SMTPEmail:       d.Email,
		SMTPAppPassword: d.AppPassword,
		FromName:        d.FromName,
		SMTPHost:        d.Host,
		SMTPPort:        strconv.Itoa(d.Port),
	}
}

func (c *Controller) removeUpload(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.Log.Warn("failed to remove upload", zap.String("path", path), zap.Error(err))
	}
}

// Previews renders up to n messages. A failed render only affects its own
// sample, which carries the error text instead of the message.
func Previews(template, defaultSubject string, records []models.RecipientRecord, n int) []Sample {

	if n > len(records) {
		n = len(records)
	}
	samples := make([]Sample, 0, n)

	body, compileErr := render.Compile(template)

	for _, rec := range records[:n] {
		s, err := preview(body, compileErr, defaultSubject, rec)
		if err != nil {
			s = Sample{
				To:      rec.Email,
				Subject: previewErrorSubject,
				Body:    previewErrorPrefix + err.Error(),
			}
		}
		samples = append(samples, s)
	}

	return samples
}

func preview(body *render.Template, compileErr error, defaultSubject string, rec models.RecipientRecord) (Sample, error) {
	if compileErr != nil {
		return Sample{}, compileErr
	}

	vars := render.RecipientVars(rec.Name, rec.Email)

	text, err := body.Render(vars)
	if err != nil {
		return Sample{}, err
	}
	return Sample{To: rec.Email, Subject: dispatch.Subject(rec, defaultSubject, vars), Body: text}, nil
}

func (r SendRequest) credentials() (models.SMTPCredentials, error) {

	creds := models.SMTPCredentials{
		Email:       strings.TrimSpace(r.Email),
		AppPassword: strings.TrimSpace(r.AppPassword),
		FromName:    strings.TrimSpace(r.FromName),
		Host:        strings.TrimSpace(r.Host),
		Port:        credentials.DefaultPort,
	}

	if creds.Email == "" || creds.AppPassword == "" {
		return creds, validation(msgMissingCreds)
	}
	if creds.FromName == "" {
		creds.FromName = credentials.DefaultFromName
	}
	if creds.Host == "" {
		creds.Host = credentials.DefaultHost
	}

	if p := strings.TrimSpace(r.Port); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return creds, validation(msgBadPort)
		}
		creds.Port = port
	}

	return creds, nil
}

func observe(step string, err *error) {
	outcome := "ok"
	if *err != nil {
		outcome = "error"
	}
	metrics.WorkflowSteps.WithLabelValues(step, outcome).Inc()
}
