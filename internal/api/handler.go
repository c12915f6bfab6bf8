// Package api exposes the workflow steps over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/models"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/sheet"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/workflow"
)

// multipart parts above this size are spooled to disk
const maxMemory = 8 << 20

// Workflow is implemented by *workflow.Controller.
type Workflow interface {
	Prepare(ctx context.Context, sid string, up workflow.Upload) (*workflow.Preview, error)
	Map(ctx context.Context, sid string, m sheet.Mapping) (*workflow.Confirmation, error)
	Confirm(ctx context.Context, sid string) (*workflow.Confirmation, error)
	Send(ctx context.Context, sid string, req workflow.SendRequest) (*models.DispatchReport, error)
	Reset(ctx context.Context, sid string) error
}

type Handler struct {
	Workflow       Workflow
	MaxUploadBytes int64
	SecureCookie   bool
	Log            *zap.Logger
}

type sendResponse struct {
	BatchID string                  `json:"batch_id"`
	Sent    int                     `json:"sent"`
	Failed  int                     `json:"failed"`
	Results []models.DispatchResult `json:"results"`
}

// Routes builds the router for the workflow endpoints.
func (h *Handler) Routes() http.Handler {

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(h.withSession)

		r.Post("/prepare", h.Prepare)
		r.Post("/map", h.Map)
		r.Get("/confirm", h.Confirm)
		r.Post("/send", h.Send)
		r.Post("/reset", h.Reset)
	})

	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.ok(w, map[string]string{"status": "ok"})
}

func (h *Handler) Prepare(w http.ResponseWriter, r *http.Request) {

	if err := h.parseMultipart(w, r); err != nil {
		h.fail(w, r, err)
		return
	}
	defer removeMultipart(r)

	up := workflow.Upload{
		Template:       r.FormValue("message_template"),
		DefaultSubject: r.FormValue("default_subject"),
	}

	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		h.fail(w, r, err)
		return
	default:
		defer file.Close()
		up.Filename = header.Filename
		up.Content = file
	}

	preview, err := h.Workflow.Prepare(r.Context(), sessionID(r), up)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.ok(w, preview)
}

func (h *Handler) Map(w http.ResponseWriter, r *http.Request) {

	if err := h.parseMultipart(w, r); err != nil {
		h.fail(w, r, err)
		return
	}
	defer removeMultipart(r)

	conf, err := h.Workflow.Map(r.Context(), sessionID(r), sheet.Mapping{
		EmailCol:   r.FormValue("email_col"),
		NameCol:    r.FormValue("name_col"),
		SubjectCol: r.FormValue("subject_col"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.ok(w, conf)
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {

	conf, err := h.Workflow.Confirm(r.Context(), sessionID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.ok(w, conf)
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {

	if err := h.parseMultipart(w, r); err != nil {
		h.fail(w, r, err)
		return
	}
	defer removeMultipart(r)

	attachments, err := readAttachments(r.MultipartForm, "attachments", "attachment")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	report, err := h.Workflow.Send(r.Context(), sessionID(r), workflow.SendRequest{
		Email:       r.FormValue("smtp_email"),
		AppPassword: r.FormValue("smtp_app_password"),
		FromName:    r.FormValue("from_name"),
		Host:        r.FormValue("smtp_host"),
		Port:        r.FormValue("smtp_port"),
		Attachments: attachments,
		Remember:    checked(r.FormValue("remember_credentials")),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.ok(w, sendResponse{
		BatchID: report.BatchID,
		Sent:    report.Sent(),
		Failed:  report.Failed(),
		Results: report.Results,
	})
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {

	if err := h.Workflow.Reset(r.Context(), sessionID(r)); err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{Redirect: startPath})
}

// ----------------------------
// Request parsing
// ----------------------------

// parseMultipart accepts multipart and urlencoded bodies up to MaxUploadBytes.
func (h *Handler) parseMultipart(w http.ResponseWriter, r *http.Request) error {

	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	}

	err := r.ParseMultipartForm(maxMemory)
	if errors.Is(err, http.ErrNotMultipart) {
		return r.ParseForm()
	}
	return err
}

func removeMultipart(r *http.Request) {
	if r.MultipartForm != nil {
		r.MultipartForm.RemoveAll()
	}
}

// readAttachments merges the files of every field, skipping parts without a
// filename.
func readAttachments(form *multipart.Form, fields ...string) ([]models.AttachmentFile, error) {
	if form == nil {
		return nil, nil
	}

	var out []models.AttachmentFile
	for _, field := range fields {
		for _, fh := range form.File[field] {
			if fh.Filename == "" {
				continue
			}

			content, err := readPart(fh)
			if err != nil {
				return nil, fmt.Errorf("read attachment %q: %w", fh.Filename, err)
			}

			out = append(out, models.AttachmentFile{
				Filename: workflow.SanitizeFilename(fh.Filename),
				Content:  content,
			})
		}
	}

	return out, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func checked(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "1":
		return true
	}
	return false
}

// ----------------------------
// Logging
// ----------------------------

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		h.Log.Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
