package library

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"policycopilot/internal/models"
)

const (
	DefaultMaxUploadBytes = 10 << 20 // 10 MB
	DefaultUploadDelay    = 2 * time.Second

	maxRenameAttempts = 1000
	ingestJobKey      = "library:ingest"
)

var (
	ErrTooLarge        = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrNoDocuments     = errors.New("no document ids given")
	ErrNoFileName      = errors.New("file name is required")
)

var allowedContentTypes = []string{
	"text/plain",
	"text/markdown",
	"text/csv",
	"application/pdf",
	"application/json",
	"application/msword",
}

// office documents sniff as zip archives
var officeExtensions = map[string]bool{".docx": true, ".xlsx": true, ".pptx": true}

var pdfPage = regexp.MustCompile(`/Type\s*/Page\b`)

// Scheduler runs ingestion jobs in the background.
type Scheduler interface {
	Schedule(key string, fn func()) error
}

// Options tunes uploads. Zero values fall back to the defaults.
type Options struct {
	BaseDir        string
	MaxUploadBytes int64
	UploadDelay    time.Duration
}

// Service manages the document library.
type Service struct {
	db    *sql.DB
	sched Scheduler
	opts  Options
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewService(db *sql.DB, sched Scheduler, opts Options, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.BaseDir == "" {
		opts.BaseDir = filepath.Join(os.TempDir(), "policycopilot", "uploads")
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.UploadDelay <= 0 {
		opts.UploadDelay = DefaultUploadDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{db: db, sched: sched, opts: opts, log: log, ctx: ctx, cancel: cancel}
}

// MaxUploadBytes is the largest file Upload accepts.
func (s *Service) MaxUploadBytes() int64 { return s.opts.MaxUploadBytes }

// List returns documents newest first. A non-empty query matches name or
// author case-insensitively.
func (s *Service) List(ctx context.Context, query string) ([]models.Document, error) {
	q := `SELECT id, name, doc_type, size_bytes, pages, status, author, stored_path, modified_at FROM documents`
	var args []interface{}
	if query = strings.TrimSpace(query); query != "" {
		like := "%" + escapeLike(strings.ToLower(query)) + "%"
		q += ` WHERE LOWER(name) LIKE ? ESCAPE '!' OR LOWER(author) LIKE ? ESCAPE '!'`
		args = append(args, like, like)
	}
	q += ` ORDER BY modified_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := make([]models.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Get returns one document or sql.ErrNoRows.
func (s *Service) Get(ctx context.Context, id int64) (models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, doc_type, size_bytes, pages, status, author, stored_path, modified_at FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if err != nil {
		return models.Document{}, err
	}
	return d, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row scanner) (models.Document, error) {
	var (
		d      models.Document
		status string
	)
	if err := row.Scan(&d.ID, &d.Name, &d.Type, &d.SizeBytes, &d.Pages, &status, &d.Author, &d.StoredPath, &d.ModifiedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, err
		}
		return d, fmt.Errorf("scan document: %w", err)
	}
	d.Status = models.DocumentStatus(status)
	return d, nil
}

// Upload is one file handed to the library.
type Upload struct {
	Filename string
	Author   string
	Body     io.Reader
}

// Upload stores the file and records it as Processing. The record turns into
// a Draft once ingestion finishes in the background.
func (s *Service) Upload(ctx context.Context, up Upload) (models.Document, error) {
	if err := s.ctx.Err(); err != nil {
		return models.Document{}, err
	}
	name := filepath.Base(strings.TrimSpace(up.Filename))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return models.Document{}, ErrNoFileName
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(up.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return models.Document{}, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	contentType := http.DetectContentType(head)
	if !allowedType(contentType, name) {
		return models.Document{}, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	if err := os.MkdirAll(s.opts.BaseDir, 0o755); err != nil {
		return models.Document{}, fmt.Errorf("create upload dir: %w", err)
	}
	f, finalName, path, err := s.createUnique(name)
	if err != nil {
		return models.Document{}, err
	}
	size, err := s.writeFile(f, path, io.MultiReader(bytes.NewReader(head), up.Body))
	if err != nil {
		return models.Document{}, err
	}

	doc := models.Document{
		Name:       finalName,
		Type:       docType(finalName),
		SizeBytes:  size,
		Status:     models.DocumentProcessing,
		Author:     authorOrDefault(up.Author),
		StoredPath: path,
		ModifiedAt: time.Now().UTC(),
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (name, doc_type, size_bytes, pages, status, author, stored_path, modified_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.Name, doc.Type, doc.SizeBytes, doc.Pages, string(doc.Status), doc.Author, doc.StoredPath, doc.ModifiedAt)
	if err != nil {
		_ = os.Remove(path)
		return models.Document{}, fmt.Errorf("insert document: %w", err)
	}
	if doc.ID, err = res.LastInsertId(); err != nil {
		_ = os.Remove(path)
		return models.Document{}, fmt.Errorf("document id: %w", err)
	}

	id := doc.ID
	if err := s.sched.Schedule(ingestJobKey, func() { s.ingest(id, path) }); err != nil {
		if _, derr := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); derr != nil {
			s.log.Warn("drop unscheduled document", zap.Int64("document", id), zap.Error(derr))
		}
		_ = os.Remove(path)
		return models.Document{}, err
	}
	s.log.Info("document uploaded", zap.Int64("document", id), zap.String("name", finalName), zap.Int64("bytes", size))
	return doc, nil
}

func (s *Service) writeFile(f *os.File, path string, r io.Reader) (int64, error) {
	size, err := io.Copy(f, io.LimitReader(r, s.opts.MaxUploadBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, fmt.Errorf("save file: %w", err)
	}
	if size > s.opts.MaxUploadBytes {
		_ = os.Remove(path)
		return 0, ErrTooLarge
	}
	return size, nil
}

// ingest waits out the processing delay, counts pages and promotes the
// document to Draft. Documents deleted in the meantime are left alone.
func (s *Service) ingest(id int64, path string) {
	timer := time.NewTimer(s.opts.UploadDelay)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return
	case <-timer.C:
	}

	pages := countPages(path)
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, pages = ?, modified_at = ? WHERE id = ? AND status = ?`,
		string(models.DocumentDraft), pages, time.Now().UTC(), id, string(models.DocumentProcessing))
	if err != nil {
		s.log.Warn("finish ingestion", zap.Int64("document", id), zap.Error(err))
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.log.Debug("ingested document no longer present", zap.Int64("document", id))
		return
	}
	s.log.Info("document indexed", zap.Int64("document", id), zap.Int("pages", pages))
}

// Delete removes the given documents and their stored files. It returns how
// many records were deleted; unknown ids are ignored.
func (s *Service) Delete(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, ErrNoDocuments
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT stored_path FROM documents WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("select documents: %w", err)
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan document path: %w", err)
		}
		if p != "" {
			paths = append(paths, p)
		}
	}
	if err := rows.Close(); err != nil {
		return 0, fmt.Errorf("close rows: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete documents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleted rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete: %w", err)
	}

	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("remove stored document", zap.String("path", p), zap.Error(err))
		}
	}
	return n, nil
}

// Close stops pending ingestion jobs.
func (s *Service) Close() {
	s.cancel()
}

// createUnique creates filename under the base dir, or the first free
// "name (n).ext" variant when it is taken. Creation is exclusive, so
// concurrent uploads of the same name each get their own file.
func (s *Service) createUnique(filename string) (*os.File, string, string, error) {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	for idx := 0; idx <= maxRenameAttempts; idx++ {
		candidate := filename
		if idx > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", base, idx, ext)
		}
		path := filepath.Join(s.opts.BaseDir, candidate)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f, candidate, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", "", fmt.Errorf("create file: %w", err)
		}
	}
	candidate := base + "-" + strconv.FormatInt(time.Now().UnixNano(), 10) + ext
	path := filepath.Join(s.opts.BaseDir, candidate)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, "", "", fmt.Errorf("create file: %w", err)
	}
	return f, candidate, path, nil
}

func allowedType(ct, filename string) bool {
	for _, allowed := range allowedContentTypes {
		if strings.HasPrefix(ct, allowed) {
			return true
		}
	}
	return ct == "application/zip" && officeExtensions[strings.ToLower(filepath.Ext(filename))]
}

func docType(filename string) string {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	if ext == "" {
		return "FILE"
	}
	return strings.ToUpper(ext)
}

func countPages(path string) int {
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return 1
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 1
	}
	if n := len(pdfPage.FindAll(data, -1)); n > 0 {
		return n
	}
	return 1
}

func authorOrDefault(author string) string {
	if author = strings.TrimSpace(author); author != "" {
		return author
	}
	return "You"
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}
