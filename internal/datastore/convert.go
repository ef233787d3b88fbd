package datastore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/crmdesk/server/internal/models"
	"github.com/crmdesk/server/internal/services"
	"github.com/crmdesk/server/pkg/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// legacyNamespace seeds the UUIDv5 ids derived from old string ids, so the
// same file always maps onto the same rows.
var legacyNamespace = uuid.MustParse("6f1c1b0e-7d1a-4a55-9a63-0f4b7c2e9d10")

// LegacyID maps an old id onto a UUID. Ids that already are UUIDs are kept.
func LegacyID(raw ID) uuid.UUID {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return uuid.Nil
	}
	if id, err := uuid.Parse(s); err == nil {
		return id
	}
	return uuid.NewSHA1(legacyNamespace, []byte(s))
}

func derivedID(parts ...string) uuid.UUID {
	return uuid.NewSHA1(legacyNamespace, []byte(strings.Join(parts, ":")))
}

func idOf(id uuid.UUID) ID {
	return ID(id.String())
}

func refOf(id *uuid.UUID) ID {
	if id == nil {
		return ""
	}
	return idOf(*id)
}

type LoadOptions struct {
	// Replace deletes rows that are absent from the document. Without it the
	// document is merged into the existing tables.
	Replace bool
}

type LoadSummary struct {
	Users           int `json:"users"`
	Products        int `json:"products"`
	Clients         int `json:"clients"`
	Comments        int `json:"comments"`
	Reminders       int `json:"reminders"`
	Documents       int `json:"documents"`
	ResetTokens     int `json:"passwordResetTokens"`
	ImportLogs      int `json:"importLogs"`
	Orphans         int `json:"orphans"`
	HashedPasswords int `json:"hashedPasswords"`
}

// loader carries the id mapping for one ToDatabase call.
type loader struct {
	tx      *gorm.DB
	users   map[ID]uuid.UUID
	summary LoadSummary
}

// owner resolves an owner reference. An empty reference is an orphan; an
// unknown user id is kept as is so the record stays admin-only.
func (l *loader) owner(ref ID) *uuid.UUID {
	if strings.TrimSpace(string(ref)) == "" {
		l.summary.Orphans++
		return nil
	}
	id := l.resolve(ref)
	return &id
}

func (l *loader) author(ref ID) *uuid.UUID {
	if strings.TrimSpace(string(ref)) == "" {
		return nil
	}
	id := l.resolve(ref)
	return &id
}

func (l *loader) resolve(ref ID) uuid.UUID {
	if id, ok := l.users[ref]; ok {
		return id
	}
	return LegacyID(ref)
}

// ToDatabase writes every collection of doc into the database in one
// transaction. Plaintext passwords from old files are hashed on the way in.
func ToDatabase(ctx context.Context, db *gorm.DB, doc *Document, opts LoadOptions) (*LoadSummary, error) {
	if doc == nil {
		doc = Empty()
	}
	doc.normalize()

	var summary LoadSummary
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l := &loader{tx: tx, users: map[ID]uuid.UUID{}}

		users, err := l.buildUsers(doc.Users)
		if err != nil {
			return err
		}
		products := l.buildProducts(doc.Products)
		clients, comments, reminders := l.buildClients(doc.Clients)
		documents := l.buildDocuments(doc.Documents)
		tokens := l.buildTokens(doc.PasswordResetTokens)
		logs := l.buildImportLogs(doc.ImportLogs)

		if err := bumpVersions(tx, users, func(u *models.User) *int64 { return &u.Version }); err != nil {
			return err
		}
		if err := bumpVersions(tx, products, func(p *models.Product) *int64 { return &p.Version }); err != nil {
			return err
		}
		if err := bumpVersions(tx, clients, func(c *models.Client) *int64 { return &c.Version }); err != nil {
			return err
		}
		if err := bumpVersions(tx, documents, func(d *models.Document) *int64 { return &d.Version }); err != nil {
			return err
		}

		steps := []func() error{
			func() error { return store(ctx, tx, "users", users, opts.Replace) },
			func() error { return store(ctx, tx, "products", products, opts.Replace) },
			func() error { return store(ctx, tx, "clients", clients, opts.Replace) },
			func() error { return store(ctx, tx, "client_comments", comments, opts.Replace) },
			func() error { return store(ctx, tx, "client_reminders", reminders, opts.Replace) },
			func() error { return store(ctx, tx, "documents", documents, opts.Replace) },
			func() error { return store(ctx, tx, "password_reset_tokens", tokens, opts.Replace) },
			func() error { return store(ctx, tx, "import_logs", logs, opts.Replace) },
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return err
			}
		}

		l.summary.Users = len(users)
		l.summary.Products = len(products)
		l.summary.Clients = len(clients)
		l.summary.Comments = len(comments)
		l.summary.Reminders = len(reminders)
		l.summary.Documents = len(documents)
		l.summary.ResetTokens = len(tokens)
		l.summary.ImportLogs = len(logs)
		summary = l.summary
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func store[T models.Identified](ctx context.Context, tx *gorm.DB, name string, rows []T, replace bool) error {
	rows = dedupe(rows)
	collection := services.NewCollection[T](tx, name)
	if replace {
		return collection.SaveAll(ctx, rows)
	}
	return collection.Upsert(ctx, rows)
}

// dedupe keeps the last occurrence of every id, in first-seen order.
func dedupe[T models.Identified](rows []T) []T {
	index := make(map[uuid.UUID]int, len(rows))
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		if i, ok := index[row.GetID()]; ok {
			out[i] = row
			continue
		}
		index[row.GetID()] = len(out)
		out = append(out, row)
	}
	return out
}

// bumpVersions gives rows that already exist the next version, so clients
// holding the old version see a conflict instead of silently overwriting.
func bumpVersions[T models.Identified](tx *gorm.DB, rows []T, version func(*T) *int64) error {
	const chunk = 500
	current := map[uuid.UUID]int64{}
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		ids := make([]uuid.UUID, 0, end-start)
		for _, row := range rows[start:end] {
			ids = append(ids, row.GetID())
		}

		var existing []struct {
			ID      uuid.UUID
			Version int64
		}
		if err := tx.Model(new(T)).Select("id, version").Where("id IN ?", ids).Scan(&existing).Error; err != nil {
			return fmt.Errorf("loading versions: %w", err)
		}
		for _, e := range existing {
			current[e.ID] = e.Version
		}
	}

	for i := range rows {
		v := version(&rows[i])
		*v = current[rows[i].GetID()] + 1
	}
	return nil
}

func (l *loader) buildUsers(in []User) ([]models.User, error) {
	seen := map[string]ID{}
	out := make([]models.User, 0, len(in))
	for _, u := range in {
		email := models.NormalizeEmail(u.Email)
		if email == "" {
			return nil, fmt.Errorf("user %q has no email", u.ID)
		}
		if other, ok := seen[email]; ok && other != u.ID {
			return nil, fmt.Errorf("users %q and %q share email %s", other, u.ID, email)
		}
		seen[email] = u.ID

		id := LegacyID(u.ID)
		if id == uuid.Nil {
			id = derivedID("user", email)
		}
		var existing models.User
		err := l.tx.Select("id").Where("email = ?", email).Limit(1).Find(&existing).Error
		if err != nil {
			return nil, fmt.Errorf("looking up %s: %w", email, err)
		}
		if existing.ID != uuid.Nil {
			id = existing.ID
		}
		l.users[u.ID] = id

		hash, mustChange, err := l.passwordHash(u.Password)
		if err != nil {
			return nil, fmt.Errorf("hashing password of %s: %w", email, err)
		}

		role := models.UserRoleUser
		if strings.EqualFold(strings.TrimSpace(u.Role), string(models.UserRoleAdmin)) {
			role = models.UserRoleAdmin
		}

		user := models.User{
			Email:              email,
			PasswordHash:       hash,
			FullName:           strings.TrimSpace(u.FullName),
			Role:               role,
			Phone:              u.Phone,
			ProfilePicture:     u.ProfilePicture,
			DarkMode:           u.DarkMode,
			LastLogin:          u.LastLogin.Ptr(),
			LastActive:         u.LastActive.Ptr(),
			IsOnline:           u.IsOnline,
			MustChangePassword: u.MustChangePassword || mustChange,
		}
		user.ID = id
		user.CreatedAt = u.CreatedAt.Time
		out = append(out, user)
	}
	return out, nil
}

// passwordHash keeps bcrypt hashes and hashes plaintext. An account without
// any password gets a random one and must set its own.
func (l *loader) passwordHash(password string) (string, bool, error) {
	switch {
	case utils.LooksHashed(password):
		return password, false, nil
	case password == "":
		raw, _, err := utils.NewOpaqueToken()
		if err != nil {
			return "", false, err
		}
		hash, err := utils.HashPassword(raw)
		return hash, true, err
	default:
		l.summary.HashedPasswords++
		hash, err := utils.HashPassword(password)
		return hash, false, err
	}
}

func (l *loader) buildProducts(in []Product) []models.Product {
	out := make([]models.Product, 0, len(in))
	for i, p := range in {
		discountType := models.DiscountType(strings.ToLower(strings.TrimSpace(p.DiscountType)))
		if discountType != models.DiscountFixed {
			discountType = models.DiscountPercent
		}

		product := models.Product{
			NameEn:       strings.TrimSpace(p.NameEn),
			NameHe:       strings.TrimSpace(p.NameHe),
			Code:         strings.TrimSpace(p.Code),
			Price:        p.Price,
			Discount:     p.Discount,
			DiscountType: discountType,
		}
		product.ID = LegacyID(p.ID)
		if product.ID == uuid.Nil {
			product.ID = derivedID("product", strconv.Itoa(i))
		}
		product.UserID = l.owner(p.UserID)
		product.CreatedAt = p.CreatedAt.Time
		out = append(out, product)
	}
	return out
}

func (l *loader) buildClients(in []Client) ([]models.Client, []models.ClientComment, []models.ClientReminder) {
	clients := make([]models.Client, 0, len(in))
	var comments []models.ClientComment
	var reminders []models.ClientReminder

	for i, c := range in {
		client := models.Client{
			Name:          strings.TrimSpace(c.Name),
			PC:            strings.TrimSpace(c.PC),
			Phone:         strings.TrimSpace(c.Phone),
			Email:         strings.TrimSpace(c.Email),
			ProductIDs:    models.ProductIDList{},
			LastContacted: c.LastContacted.Ptr(),
		}
		client.ID = LegacyID(c.ID)
		if client.ID == uuid.Nil {
			client.ID = derivedID("client", strconv.Itoa(i))
		}
		client.UserID = l.owner(c.UserID)
		client.CreatedAt = c.CreatedAt.Time
		for _, pid := range c.ProductIDs {
			if id := LegacyID(pid); id != uuid.Nil {
				client.ProductIDs = append(client.ProductIDs, id)
			}
		}
		clients = append(clients, client)

		for j, cm := range c.Comments {
			comment := models.ClientComment{
				ClientID: client.ID,
				UserID:   l.author(cm.UserID),
				Text:     cm.Text,
			}
			comment.ID = LegacyID(cm.ID)
			if comment.ID == uuid.Nil {
				comment.ID = derivedID("comment", client.ID.String(), strconv.Itoa(j))
			}
			comment.CreatedAt = cm.CreatedAt.Time
			comments = append(comments, comment)
		}

		for j, r := range c.Reminders {
			reminder := models.ClientReminder{
				ClientID: client.ID,
				UserID:   l.author(r.UserID),
				Date:     r.Date.Time,
				Note:     r.Note,
				Done:     r.Done,
			}
			reminder.ID = LegacyID(r.ID)
			if reminder.ID == uuid.Nil {
				reminder.ID = derivedID("reminder", client.ID.String(), strconv.Itoa(j))
			}
			reminder.CreatedAt = r.CreatedAt.Time
			reminders = append(reminders, reminder)
		}
	}
	return clients, comments, reminders
}

func (l *loader) buildDocuments(in []DocumentRecord) []models.Document {
	out := make([]models.Document, 0, len(in))
	for i, d := range in {
		doc := models.Document{
			OriginalName: d.OriginalName,
			FileName:     d.FileName,
			MimeType:     d.MimeType,
			Size:         d.Size,
			UploadedAt:   d.UploadedAt.Time,
		}
		if d.ClientID != nil {
			if id := LegacyID(*d.ClientID); id != uuid.Nil {
				doc.ClientID = &id
			}
		}
		doc.ID = LegacyID(d.ID)
		if doc.ID == uuid.Nil {
			doc.ID = derivedID("document", strconv.Itoa(i))
		}
		if doc.FileName == "" {
			doc.FileName = doc.ID.String()
		}
		doc.UserID = l.owner(d.UserID)
		out = append(out, doc)
	}
	return out
}

func (l *loader) buildTokens(in []ResetToken) []models.PasswordResetToken {
	out := make([]models.PasswordResetToken, 0, len(in))
	for _, t := range in {
		digest := t.TokenHash
		if digest == "" && t.Token != "" {
			digest = utils.HashOpaqueToken(t.Token)
		}
		if digest == "" || strings.TrimSpace(string(t.UserID)) == "" {
			continue
		}

		token := models.PasswordResetToken{
			UserID:    l.resolve(t.UserID),
			TokenHash: digest,
			ExpiresAt: t.ExpiresAt.Time,
		}
		token.ID = LegacyID(t.ID)
		if token.ID == uuid.Nil {
			token.ID = derivedID("reset", digest)
		}
		token.CreatedAt = t.CreatedAt.Time
		out = append(out, token)
	}
	return out
}

func (l *loader) buildImportLogs(in []ImportLog) []models.ImportLog {
	out := make([]models.ImportLog, 0, len(in))
	for i, il := range in {
		log := models.ImportLog{
			Type:            models.ImportType(il.Type),
			ImportedBy:      il.ImportedBy,
			ImportedByID:    l.resolve(il.ImportedByID),
			AssignedUserID:  l.author(il.AssignedUserID),
			FileName:        il.FileName,
			FileSize:        il.FileSize,
			FileType:        il.FileType,
			TotalRows:       il.TotalRows,
			SuccessfulCount: il.SuccessfulCount,
			FailedCount:     il.FailedCount,
			Status:          models.ImportStatus(il.Status),
			Errors:          decodeRowErrors(il.Errors),
			Successful:      decodeIDs(il.Successful),
		}
		if log.Status == "" {
			log.Status = models.ImportStatusFor(log.SuccessfulCount, log.FailedCount)
		}
		log.ID = LegacyID(il.ID)
		if log.ID == uuid.Nil {
			log.ID = derivedID("import", strconv.Itoa(i))
		}
		log.CreatedAt = il.CreatedAt.Time
		out = append(out, log)
	}
	return out
}

// decodeRowErrors accepts plain strings as well as {row, field, message}
// objects. Older files used "error" instead of "message".
func decodeRowErrors(raw json.RawMessage) []models.ImportRowError {
	out := []models.ImportRowError{}
	var items []interface{}
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return out
	}
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, models.ImportRowError{Message: v})
		case map[string]interface{}:
			e := models.ImportRowError{}
			if row, ok := v["row"].(float64); ok {
				e.Row = int(row)
			}
			e.Field, _ = v["field"].(string)
			e.Message, _ = v["message"].(string)
			if e.Message == "" {
				e.Message, _ = v["error"].(string)
			}
			out = append(out, e)
		}
	}
	return out
}

// decodeIDs accepts a list of ids or a list of records carrying an id.
func decodeIDs(raw json.RawMessage) []uuid.UUID {
	out := []uuid.UUID{}
	var items []interface{}
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return out
	}
	for _, item := range items {
		var ref ID
		switch v := item.(type) {
		case string:
			ref = ID(v)
		case float64:
			ref = ID(strconv.FormatFloat(v, 'f', -1, 64))
		case map[string]interface{}:
			switch id := v["id"].(type) {
			case string:
				ref = ID(id)
			case float64:
				ref = ID(strconv.FormatFloat(id, 'f', -1, 64))
			}
		}
		if id := LegacyID(ref); id != uuid.Nil {
			out = append(out, id)
		}
	}
	return out
}

// FromDatabase snapshots every table into a Document. Passwords are written
// as their bcrypt hashes and reset tokens as digests.
func FromDatabase(ctx context.Context, db *gorm.DB) (*Document, error) {
	doc := Empty()

	users, err := services.NewCollection[models.User](db, "users").All(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		role := ""
		if u.IsAdmin() {
			role = string(models.UserRoleAdmin)
		}
		doc.Users = append(doc.Users, User{
			ID:                 idOf(u.ID),
			Email:              u.Email,
			Password:           u.PasswordHash,
			FullName:           u.FullName,
			Role:               role,
			Phone:              u.Phone,
			ProfilePicture:     u.ProfilePicture,
			DarkMode:           u.DarkMode,
			CreatedAt:          At(u.CreatedAt),
			LastLogin:          AtPtr(u.LastLogin),
			LastActive:         AtPtr(u.LastActive),
			IsOnline:           u.IsOnline,
			MustChangePassword: u.MustChangePassword,
		})
	}

	products, err := services.NewCollection[models.Product](db, "products").All(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		doc.Products = append(doc.Products, Product{
			ID:           idOf(p.ID),
			UserID:       refOf(p.UserID),
			NameEn:       p.NameEn,
			NameHe:       p.NameHe,
			Code:         p.Code,
			Price:        p.Price,
			Discount:     p.Discount,
			DiscountType: string(p.DiscountType),
			CreatedAt:    At(p.CreatedAt),
		})
	}

	if err := exportClients(ctx, db, doc); err != nil {
		return nil, err
	}

	documents, err := services.NewCollection[models.Document](db, "documents").All(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range documents {
		record := DocumentRecord{
			ID:           idOf(d.ID),
			UserID:       refOf(d.UserID),
			OriginalName: d.OriginalName,
			FileName:     d.FileName,
			MimeType:     d.MimeType,
			Size:         d.Size,
			UploadedAt:   At(d.UploadedAt),
		}
		if d.ClientID != nil {
			ref := idOf(*d.ClientID)
			record.ClientID = &ref
		}
		doc.Documents = append(doc.Documents, record)
	}

	tokens, err := services.NewCollection[models.PasswordResetToken](db, "password_reset_tokens").All(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tokens {
		if t.UsedAt != nil {
			continue
		}
		doc.PasswordResetTokens = append(doc.PasswordResetTokens, ResetToken{
			ID:        idOf(t.ID),
			UserID:    idOf(t.UserID),
			TokenHash: t.TokenHash,
			ExpiresAt: At(t.ExpiresAt),
			CreatedAt: At(t.CreatedAt),
		})
	}

	logs, err := services.NewCollection[models.ImportLog](db, "import_logs").All(ctx)
	if err != nil {
		return nil, err
	}
	for _, il := range logs {
		errorsJSON, err := json.Marshal(il.Errors)
		if err != nil {
			return nil, fmt.Errorf("encoding import errors: %w", err)
		}
		successfulJSON, err := json.Marshal(il.Successful)
		if err != nil {
			return nil, fmt.Errorf("encoding import ids: %w", err)
		}
		doc.ImportLogs = append(doc.ImportLogs, ImportLog{
			ID:              idOf(il.ID),
			Type:            string(il.Type),
			ImportedBy:      il.ImportedBy,
			ImportedByID:    idOf(il.ImportedByID),
			AssignedUserID:  refOf(il.AssignedUserID),
			FileName:        il.FileName,
			FileSize:        il.FileSize,
			FileType:        il.FileType,
			TotalRows:       il.TotalRows,
			SuccessfulCount: il.SuccessfulCount,
			FailedCount:     il.FailedCount,
			Status:          string(il.Status),
			Errors:          errorsJSON,
			Successful:      successfulJSON,
			CreatedAt:       At(il.CreatedAt),
		})
	}

	doc.normalize()
	return doc, nil
}

func exportClients(ctx context.Context, db *gorm.DB, doc *Document) error {
	clients, err := services.NewCollection[models.Client](db, "clients").All(ctx)
	if err != nil {
		return err
	}
	comments, err := services.NewCollection[models.ClientComment](db, "client_comments").All(ctx)
	if err != nil {
		return err
	}
	reminders, err := services.NewCollection[models.ClientReminder](db, "client_reminders").All(ctx)
	if err != nil {
		return err
	}

	commentsByClient := map[uuid.UUID][]Comment{}
	for _, cm := range comments {
		commentsByClient[cm.ClientID] = append(commentsByClient[cm.ClientID], Comment{
			ID:        idOf(cm.ID),
			Text:      cm.Text,
			CreatedAt: At(cm.CreatedAt),
			UserID:    refOf(cm.UserID),
		})
	}
	remindersByClient := map[uuid.UUID][]Reminder{}
	for _, r := range reminders {
		remindersByClient[r.ClientID] = append(remindersByClient[r.ClientID], Reminder{
			ID:        idOf(r.ID),
			Date:      At(r.Date),
			Note:      r.Note,
			Done:      r.Done,
			CreatedAt: At(r.CreatedAt),
			UserID:    refOf(r.UserID),
		})
	}

	for _, c := range clients {
		productIDs := make([]ID, 0, len(c.ProductIDs))
		for _, pid := range c.ProductIDs {
			productIDs = append(productIDs, idOf(pid))
		}
		doc.Clients = append(doc.Clients, Client{
			ID:            idOf(c.ID),
			UserID:        refOf(c.UserID),
			Name:          c.Name,
			PC:            c.PC,
			Phone:         c.Phone,
			Email:         c.Email,
			Comments:      commentsByClient[c.ID],
			Reminders:     remindersByClient[c.ID],
			ProductIDs:    productIDs,
			LastContacted: AtPtr(c.LastContacted),
			CreatedAt:     At(c.CreatedAt),
		})
	}
	return nil
}
