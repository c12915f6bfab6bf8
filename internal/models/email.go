package models

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type DispatchStatus string

const (
	StatusSent  DispatchStatus = "sent"
	StatusError DispatchStatus = "error"
)

// RecipientRecord is one normalized row of the uploaded sheet.
type RecipientRecord struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Subject string `json:"subject,omitempty"`
}

func (r RecipientRecord) HasSubject() bool {
	return r.Subject != ""
}

// SMTPCredentials are supplied per send request and only persisted on request.
type SMTPCredentials struct {
	Email       string `json:"email"`
	AppPassword string `json:"-"`
	FromName    string `json:"from_name"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
}

func (c SMTPCredentials) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// String hides the app password so credentials are safe to print.
func (c SMTPCredentials) String() string {
	return c.FromName + " <" + c.Email + "> via " + c.Addr()
}

type AttachmentFile struct {
	Filename string
	Content  []byte
}

func (a AttachmentFile) IsPDF() bool {
	return strings.EqualFold(filepath.Ext(a.Filename), ".pdf")
}

type DispatchResult struct {
	Email  string         `json:"to"`
	Status DispatchStatus `json:"status"`
	Detail string         `json:"detail"`
}

type DispatchReport struct {
	BatchID    string           `json:"batch_id"`
	Sender     string           `json:"sender"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Results    []DispatchResult `json:"results"`
}

func (r DispatchReport) Sent() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == StatusSent {
			n++
		}
	}
	return n
}

func (r DispatchReport) Failed() int {
	return len(r.Results) - r.Sent()
}
