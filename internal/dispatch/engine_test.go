package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/email"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/email/smtptest"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/models"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/render"
)

type sentMessage struct {
	from string
	to   []string
	raw  []byte
}

type fakeSession struct {
	mu       sync.Mutex
	sent     []sentMessage
	failFor  map[string]error
	closeErr error
	closed   bool
}

func (f *fakeSession) Send(from string, to []string, msg io.WriterTo) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failFor[to[0]]; err != nil {
		return err
	}
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return err
	}
	f.sent = append(f.sent, sentMessage{from: from, to: to, raw: buf.Bytes()})
	return nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return f.closeErr
}

type fakeDialer struct {
	sess  *fakeSession
	err   error
	calls int
	creds models.SMTPCredentials
}

func (f *fakeDialer) Dial(_ context.Context, creds models.SMTPCredentials) (email.Session, error) {
	f.calls++
	f.creds = creds
	if f.err != nil {
		return nil, f.err
	}
	return f.sess, nil
}

type countingPacer struct {
	calls  int
	cancel context.CancelFunc
	after  int
}

func (p *countingPacer) Wait(ctx context.Context) error {
	p.calls++
	if p.cancel != nil && p.calls > p.after {
		p.cancel()
	}
	return ctx.Err()
}

var testCreds = models.SMTPCredentials{
	Email:       "matricula@unmsm.edu.pe",
	AppPassword: "app-pass",
	FromName:    "Centro de Idiomas",
	Host:        "smtp.gmail.com",
	Port:        587,
}

func newEngine(sess *fakeSession) (*Engine, *fakeDialer, *countingPacer) {
	d := &fakeDialer{sess: sess}
	p := &countingPacer{}
	return &Engine{Dialer: d, Pacer: p, Log: zap.NewNop()}, d, p
}

func parse(t *testing.T, m sentMessage) *smtptest.Parsed {
	t.Helper()
	p, err := smtptest.Parse(m.raw)
	require.NoError(t, err)
	return p
}

func TestRunSendsInOrderAndSkipsEmptyEmail(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{}
	e, d, pacer := newEngine(sess)

	report, err := e.Run(context.Background(), Batch{
		Records: []models.RecipientRecord{
			{Email: "ana@x.pe", Name: "Ana"},
			{Email: "  ", Name: "Sin correo"},
			{Email: "beto@x.pe", Name: "Beto"},
		},
		Credentials: testCreds,
		Template:    "Hola {{name}}",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, d.calls)
	assert.Equal(t, testCreds, d.creds)
	assert.Equal(t, []models.DispatchResult{
		{Email: "ana@x.pe", Status: models.StatusSent},
		{Email: "", Status: models.StatusError, Detail: "Correo vacío"},
		{Email: "beto@x.pe", Status: models.StatusSent},
	}, report.Results)
	assert.NotEmpty(t, report.BatchID)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))

	require.Len(t, sess.sent, 2)
	assert.Equal(t, []string{"ana@x.pe"}, sess.sent[0].to)
	assert.Equal(t, []string{"beto@x.pe"}, sess.sent[1].to)
	assert.Equal(t, "matricula@unmsm.edu.pe", sess.sent[0].from)
	assert.Equal(t, 2, pacer.calls, "no pacing for skipped recipients")
	assert.True(t, sess.closed)
}

func TestRunContinuesAfterRecipientFailure(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{failFor: map[string]error{"b@x.pe": errors.New("550 5.1.1 user unknown")}}
	e, _, pacer := newEngine(sess)

	report, err := e.Run(context.Background(), Batch{
		Records: []models.RecipientRecord{
			{Email: "a@x.pe", Name: "A"},
			{Email: "b@x.pe", Name: "B"},
			{Email: "c@x.pe", Name: "C"},
		},
		Credentials: testCreds,
		Template:    "Hola {{name}}",
	})
	require.NoError(t, err)

	require.Len(t, report.Results, 3)
	assert.Equal(t, models.StatusSent, report.Results[0].Status)
	assert.Equal(t, models.StatusError, report.Results[1].Status)
	assert.Contains(t, report.Results[1].Detail, "550 5.1.1 user unknown")
	assert.Equal(t, models.StatusSent, report.Results[2].Status)
	assert.Equal(t, 3, pacer.calls, "failed attempts are paced too")
	assert.Equal(t, 2, report.Sent())
}

func TestRunConnectionFailureAbortsBatch(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{}
	e, d, pacer := newEngine(sess)
	d.err = errors.New("smtp connection failed: 535 bad credentials")

	report, err := e.Run(context.Background(), Batch{
		Records:     []models.RecipientRecord{{Email: "a@x.pe", Name: "A"}},
		Credentials: testCreds,
		Template:    "Hola",
	})
	require.Error(t, err)

	assert.Empty(t, report.Results)
	assert.Empty(t, sess.sent)
	assert.Zero(t, pacer.calls)
}

func TestRunBodyAndSignature(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		signature string
		want      string
	}{
		{"no signature", "", "Hola Ana, tu correo es ana@x.pe"},
		{"with signature", "Coordinación de Matrícula\nCentro de Idiomas", "Hola Ana, tu correo es ana@x.pe\n\nCoordinación de Matrícula\nCentro de Idiomas"},
	}

	for _, tt := range tests {
		sess := &fakeSession{}
		e, _, _ := newEngine(sess)

		_, err := e.Run(context.Background(), Batch{
			Records:     []models.RecipientRecord{{Email: "ana@x.pe", Name: "Ana"}},
			Credentials: testCreds,
			Template:    "Hola {{name}}, tu correo es {{ email }}",
			Signature:   tt.signature,
		})
		require.NoError(t, err, tt.name)
		require.Len(t, sess.sent, 1, tt.name)

		assert.Equal(t, tt.want, parse(t, sess.sent[0]).Body, tt.name)
	}
}

func TestRunSubjectPrecedence(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{}
	e, _, _ := newEngine(sess)

	batch := Batch{
		Records: []models.RecipientRecord{
			{Email: "a@x.pe", Name: "Ana", Subject: "Constancia de Ana"},
			{Email: "b@x.pe", Name: "Beto"},
		},
		Credentials:    testCreds,
		Template:       "x",
		DefaultSubject: "Matrícula 2026-I para {{name}}",
	}
	_, err := e.Run(context.Background(), batch)
	require.NoError(t, err)

	require.Len(t, sess.sent, 2)
	assert.Equal(t, "Constancia de Ana", parse(t, sess.sent[0]).Subject)
	assert.Equal(t, "Matrícula 2026-I para Beto", parse(t, sess.sent[1]).Subject)

	assert.Equal(t, "Comunicado", Subject(models.RecipientRecord{}, "", nil))
}

func TestSubject(t *testing.T) {
	t.Parallel()

	vars := map[string]string{"name": "Ana", "email": "ana@x.pe"}

	tests := []struct {
		name     string
		rec      models.RecipientRecord
		fallback string
		want     string
	}{
		{"record subject is not a template", models.RecipientRecord{Subject: "Hola {{name}}"}, "x", "Hola {{name}}"},
		{"record subject wins", models.RecipientRecord{Subject: "Notas"}, "Aviso", "Notas"},
		{"default is rendered", models.RecipientRecord{}, "Aviso {{name}}", "Aviso Ana"},
		{"unrenderable default is sent as typed", models.RecipientRecord{}, "Aviso {{curso}}", "Aviso {{curso}}"},
		{"unclosed default is sent as typed", models.RecipientRecord{}, "Aviso {{", "Aviso {{"},
		{"literal fallback", models.RecipientRecord{}, "", DefaultSubject},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Subject(tt.rec, tt.fallback, vars), tt.name)
	}
}

func TestRunLogsTemplateVariables(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	e, _, _ := newEngine(&fakeSession{})
	e.Log = zap.New(core)

	_, err := e.Run(context.Background(), Batch{
		Records:     []models.RecipientRecord{{Email: "a@x.pe", Name: "A"}},
		Credentials: testCreds,
		Template:    "Hola {{name}} ({{email}}), {{name}}",
	})
	require.NoError(t, err)

	started := logs.FilterMessage("dispatch started").All()
	require.Len(t, started, 1)
	assert.Equal(t, []interface{}{"name", "email"}, started[0].ContextMap()["template_vars"])
}

func TestRunAttachesOnlyPDFs(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{}
	e, _, _ := newEngine(sess)

	_, err := e.Run(context.Background(), Batch{
		Records:     []models.RecipientRecord{{Email: "a@x.pe", Name: "A"}, {Email: "b@x.pe", Name: "B"}},
		Credentials: testCreds,
		Template:    "x",
		Attachments: []models.AttachmentFile{
			{Filename: "horario.pdf", Content: []byte("%PDF-1.4")},
			{Filename: "foto.png", Content: []byte("\x89PNG")},
			{Filename: "vacio.pdf"},
		},
	})
	require.NoError(t, err)

	for _, m := range sess.sent {
		p := parse(t, m)
		assert.Equal(t, map[string][]byte{"horario.pdf": []byte("%PDF-1.4")}, p.Attachments)
	}
}

func TestRunTemplateErrorsAreRecordedPerRecipient(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{}
	e, _, _ := newEngine(sess)

	report, err := e.Run(context.Background(), Batch{
		Records:     []models.RecipientRecord{{Email: "a@x.pe", Name: "A"}, {Email: "b@x.pe", Name: "B"}},
		Credentials: testCreds,
		Template:    "Hola {{name",
	})
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	for _, r := range report.Results {
		assert.Equal(t, models.StatusError, r.Status)
		assert.Contains(t, r.Detail, render.ErrRender.Error())
	}
	assert.Empty(t, sess.sent)
	assert.True(t, sess.closed)
}

func TestRunSendsBracesInSubjectCellsVerbatim(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{}
	e, _, _ := newEngine(sess)

	report, err := e.Run(context.Background(), Batch{
		Records: []models.RecipientRecord{
			{Email: "a@x.pe", Name: "A", Subject: "Notas {{parcial 1}}"},
			{Email: "b@x.pe", Name: "B", Subject: "Curso {{course}}"},
			{Email: "c@x.pe", Name: "C", Subject: "Examen {{"},
		},
		Credentials: testCreds,
		Template:    "Hola {{name}}",
	})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Sent())
	require.Len(t, sess.sent, 3)
	for i, want := range []string{"Notas {{parcial 1}}", "Curso {{course}}", "Examen {{"} {
		assert.Equal(t, want, parse(t, sess.sent[i]).Subject)
	}
}

func TestRunCancellationStillReportsEveryRecipient(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := &fakeSession{}
	e, _, _ := newEngine(sess)
	e.Pacer = &countingPacer{cancel: cancel, after: 1}

	report, err := e.Run(ctx, Batch{
		Records: []models.RecipientRecord{
			{Email: "a@x.pe", Name: "A"},
			{Email: "b@x.pe", Name: "B"},
			{Email: "c@x.pe", Name: "C"},
		},
		Credentials: testCreds,
		Template:    "x",
	})
	require.NoError(t, err)

	require.Len(t, report.Results, 3)
	assert.Equal(t, models.StatusSent, report.Results[0].Status)
	assert.Equal(t, models.StatusError, report.Results[1].Status)
	assert.Contains(t, report.Results[1].Detail, "cancelado")
	assert.Equal(t, "c@x.pe", report.Results[2].Email)
	assert.Equal(t, models.StatusError, report.Results[2].Status)
	assert.Len(t, sess.sent, 1)
}

func TestRunSwallowsCloseError(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{closeErr: errors.New("421 closing")}
	e, _, _ := newEngine(sess)

	report, err := e.Run(context.Background(), Batch{
		Records:     []models.RecipientRecord{{Email: "a@x.pe", Name: "A"}},
		Credentials: testCreds,
		Template:    "x",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent())
}

func TestNewPacer(t *testing.T) {
	t.Parallel()

	p := NewPacer(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, p.Wait(ctx))
	require.NoError(t, p.Wait(ctx))
	require.NoError(t, p.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)

	unpaced := NewPacer(0)
	start = time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, unpaced.Wait(ctx))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestRunOverRealSMTPSession(t *testing.T) {
	t.Parallel()

	srv, err := smtptest.NewServer(
		smtptest.WithAuth("matricula@unmsm.edu.pe", "app-pass"),
		smtptest.WithRejectedRecipients("nadie@x.pe"),
	)
	require.NoError(t, err)
	defer srv.Close()

	creds := testCreds
	creds.Host, creds.Port = srv.Host, srv.Port

	e := &Engine{
		Dialer: &email.SMTPDialer{
			Timeout:     2 * time.Second,
			SendTimeout: 2 * time.Second,
			Log:         zap.NewNop(),
			TLSConfig:   srv.ClientTLSConfig(),
		},
		Pacer:  NewPacer(0),
		Log:    zap.NewNop(),
	}

	report, err := e.Run(context.Background(), Batch{
		Records: []models.RecipientRecord{
			{Email: "ana@x.pe", Name: "Ana"},
			{Email: "nadie@x.pe", Name: "Nadie"},
			{Email: "beto@x.pe", Name: "Beto"},
		},
		Credentials: creds,
		Template:    "Hola {{name}}",
		Signature:   "Centro de Idiomas",
		Attachments: []models.AttachmentFile{{Filename: "horario.pdf", Content: []byte("%PDF")}},
	})
	require.NoError(t, err)

	assert.Equal(t, []models.DispatchStatus{models.StatusSent, models.StatusError, models.StatusSent},
		[]models.DispatchStatus{report.Results[0].Status, report.Results[1].Status, report.Results[2].Status})

	msgs := srv.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, 1, srv.Sessions())

	p, err := smtptest.Parse(msgs[1].Data)
	require.NoError(t, err)
	assert.Equal(t, "Hola Beto\n\nCentro de Idiomas", p.Body)
	assert.Equal(t, []byte("%PDF"), p.Attachments["horario.pdf"])
}
