// Package datastore reads and writes the whole-document JSON format the CRM
// used before it moved to a database. It remains the interchange format for
// backups and for migrating old installations.
package datastore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/crmdesk/server/pkg/logger"
)

// ID accepts both string and numeric ids, since older files stored
// timestamps as ids.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Timestamp is a point in time that tolerates the formats found in old
// files: RFC 3339, plain dates, epoch milliseconds and null.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func At(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

func AtPtr(t *time.Time) Timestamp {
	if t == nil {
		return Timestamp{}
	}
	return At(*t)
}

func (t Timestamp) Ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if len(data) > 0 && data[0] != '"' {
		ms, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %s", data)
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

type User struct {
	ID                 ID        `json:"id"`
	Email              string    `json:"email"`
	Password           string    `json:"password"`
	FullName           string    `json:"fullName"`
	Role               string    `json:"role,omitempty"`
	Phone              *string   `json:"phone,omitempty"`
	ProfilePicture     *string   `json:"profilePicture,omitempty"`
	DarkMode           bool      `json:"darkMode"`
	CreatedAt          Timestamp `json:"createdAt"`
	LastLogin          Timestamp `json:"lastLogin"`
	LastActive         Timestamp `json:"lastActive"`
	IsOnline           bool      `json:"isOnline"`
	MustChangePassword bool      `json:"mustChangePassword"`
}

type Product struct {
	ID           ID        `json:"id"`
	UserID       ID        `json:"userId"`
	NameEn       string    `json:"nameEn"`
	NameHe       string    `json:"nameHe"`
	Code         string    `json:"code"`
	Price        float64   `json:"price"`
	Discount     float64   `json:"discount"`
	DiscountType string    `json:"discountType"`
	CreatedAt    Timestamp `json:"createdAt"`
}

type Comment struct {
	ID        ID        `json:"id"`
	Text      string    `json:"text"`
	CreatedAt Timestamp `json:"createdAt"`
	UserID    ID        `json:"userId"`
}

type Reminder struct {
	ID        ID        `json:"id"`
	Date      Timestamp `json:"date"`
	Note      string    `json:"note"`
	Done      bool      `json:"done"`
	CreatedAt Timestamp `json:"createdAt"`
	UserID    ID        `json:"userId"`
}

type Client struct {
	ID            ID         `json:"id"`
	UserID        ID         `json:"userId"`
	Name          string     `json:"name"`
	PC            string     `json:"pc"`
	Phone         string     `json:"phone"`
	Email         string     `json:"email"`
	Comments      []Comment  `json:"comments"`
	Reminders     []Reminder `json:"reminders"`
	ProductIDs    []ID       `json:"productIds"`
	LastContacted Timestamp  `json:"lastContacted"`
	CreatedAt     Timestamp  `json:"createdAt"`
}

// DocumentRecord describes an uploaded file. A null clientId marks a
// personal document.
type DocumentRecord struct {
	ID           ID        `json:"id"`
	UserID       ID        `json:"userId"`
	ClientID     *ID       `json:"clientId"`
	OriginalName string    `json:"originalName"`
	FileName     string    `json:"fileName"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	UploadedAt   Timestamp `json:"uploadedAt"`
}

// ResetToken holds either the raw token (old files) or its digest (files
// written by this package).
type ResetToken struct {
	ID        ID        `json:"id,omitempty"`
	UserID    ID        `json:"userId"`
	Token     string    `json:"token,omitempty"`
	TokenHash string    `json:"tokenHash,omitempty"`
	ExpiresAt Timestamp `json:"expiresAt"`
	CreatedAt Timestamp `json:"createdAt"`
}

// ImportLog keeps errors and successful as raw JSON because their element
// shape changed over time.
type ImportLog struct {
	ID              ID              `json:"id"`
	Type            string          `json:"type"`
	ImportedBy      string          `json:"importedBy"`
	ImportedByID    ID              `json:"importedById"`
	AssignedUserID  ID              `json:"assignedUserId,omitempty"`
	FileName        string          `json:"fileName"`
	FileSize        int64           `json:"fileSize"`
	FileType        string          `json:"fileType"`
	TotalRows       int             `json:"totalRows"`
	SuccessfulCount int             `json:"successfulCount"`
	FailedCount     int             `json:"failedCount"`
	Status          string          `json:"status"`
	Errors          json.RawMessage `json:"errors"`
	Successful      json.RawMessage `json:"successful"`
	CreatedAt       Timestamp       `json:"createdAt"`
}

// Document is the whole datastore: one ordered list per collection.
type Document struct {
	Users               []User           `json:"users"`
	Products            []Product        `json:"products"`
	Clients             []Client         `json:"clients"`
	Documents           []DocumentRecord `json:"documents"`
	PasswordResetTokens []ResetToken     `json:"passwordResetTokens"`
	ImportLogs          []ImportLog      `json:"importLogs"`
}

func Empty() *Document {
	doc := &Document{}
	doc.normalize()
	return doc
}

// normalize replaces missing collections with empty lists so callers never
// have to nil-check and the written file always carries every key.
func (d *Document) normalize() {
	if d.Users == nil {
		d.Users = []User{}
	}
	if d.Products == nil {
		d.Products = []Product{}
	}
	if d.Clients == nil {
		d.Clients = []Client{}
	}
	if d.Documents == nil {
		d.Documents = []DocumentRecord{}
	}
	if d.PasswordResetTokens == nil {
		d.PasswordResetTokens = []ResetToken{}
	}
	if d.ImportLogs == nil {
		d.ImportLogs = []ImportLog{}
	}
	for i := range d.Clients {
		if d.Clients[i].Comments == nil {
			d.Clients[i].Comments = []Comment{}
		}
		if d.Clients[i].Reminders == nil {
			d.Clients[i].Reminders = []Reminder{}
		}
		if d.Clients[i].ProductIDs == nil {
			d.Clients[i].ProductIDs = []ID{}
		}
	}
}

type ReadStatus string

const (
	StatusLoaded     ReadStatus = "loaded"
	StatusMissing    ReadStatus = "missing"
	StatusCorrupt    ReadStatus = "corrupt"
	StatusUnreadable ReadStatus = "unreadable"
)

// ReadResult always carries a usable Document. Status says whether it came
// from the file or is the empty fallback, and Err holds the cause.
type ReadResult struct {
	Document *Document
	Status   ReadStatus
	Err      error
}

func (r ReadResult) OK() bool {
	return r.Status == StatusLoaded
}

// Read loads the document at path. It never fails outright: a missing,
// unreadable or unparseable file yields an empty document and a status
// naming what went wrong.
func Read(path string) ReadResult {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ReadResult{Document: Empty(), Status: StatusMissing, Err: err}
	}
	if err != nil {
		logger.Warn("datastore_read_unreadable", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return ReadResult{Document: Empty(), Status: StatusUnreadable, Err: err}
	}

	var doc Document
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			logger.Warn("datastore_read_corrupt", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			return ReadResult{Document: Empty(), Status: StatusCorrupt, Err: err}
		}
	}
	doc.normalize()
	return ReadResult{Document: &doc, Status: StatusLoaded}
}

// Write replaces the file at path with doc. The document is written to a
// temporary file in the same directory and renamed into place, so readers
// see either the old or the new version.
func Write(path string, doc *Document) error {
	if doc == nil {
		doc = Empty()
	}
	doc.normalize()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
