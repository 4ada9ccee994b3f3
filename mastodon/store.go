package mastodon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const DefaultStorePath = "mastodon_clients.json"

var ErrClientNotFound = errors.New("no client registered for instance")

// Store persists one ClientInfo per instance host. Load returns ErrClientNotFound on a miss.
type Store interface {
	Load(ctx context.Context, instance string) (*ClientInfo, error)
	Save(ctx context.Context, instance string, info *ClientInfo) error
	List(ctx context.Context) (map[string]ClientInfo, error)
}

// FileStore keeps every registration in a single json document keyed by instance.
// A missing or corrupt document reads as empty.
type FileStore struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if path == "" {
		path = DefaultStorePath
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &FileStore{
		path:   path,
		logger: logger.With("component", "mastodon_file_store"),
	}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) read() map[string]ClientInfo {
	entries := map[string]ClientInfo{}

	b, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("could not read client store, treating as empty", "path", s.path, "err", err)
		}
		return entries
	}

	if err := json.Unmarshal(b, &entries); err != nil {
		s.logger.Warn("client store is corrupt, treating as empty", "path", s.path, "err", err)
		return map[string]ClientInfo{}
	}

	return entries
}

func (s *FileStore) Load(ctx context.Context, instance string) (*ClientInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.read()[instance]
	if !ok {
		return nil, ErrClientNotFound
	}

	return &info, nil
}

func (s *FileStore) Save(ctx context.Context, instance string, info *ClientInfo) error {
	if info == nil {
		return fmt.Errorf("nil client info provided")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.read()
	entries[instance] = *info

	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("could not create temp client store: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("could not write client store: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("could not replace client store: %w", err)
	}

	return nil
}

func (s *FileStore) List(ctx context.Context) (map[string]ClientInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.read(), nil
}

type ClientRecord struct {
	ID           uint
	Instance     string `gorm:"uniqueIndex"`
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scope        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (ClientRecord) TableName() string {
	return "mastodon_clients"
}

// GormStore keeps registrations in a sql table, one row per instance.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&ClientRecord{}); err != nil {
		return nil, fmt.Errorf("could not migrate client store: %w", err)
	}

	return &GormStore{db: db}, nil
}

// OpenSqliteStore opens (creating if needed) a sqlite database at path.
func OpenSqliteStore(path string) (*GormStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("could not open client database: %w", err)
	}

	return NewGormStore(db)
}

func (s *GormStore) Load(ctx context.Context, instance string) (*ClientInfo, error) {
	var rec ClientRecord
	if err := s.db.WithContext(ctx).Where("instance = ?", instance).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}

	return rec.clientInfo(), nil
}

func (s *GormStore) Save(ctx context.Context, instance string, info *ClientInfo) error {
	if info == nil {
		return fmt.Errorf("nil client info provided")
	}

	rec := &ClientRecord{
		Instance:     instance,
		ClientID:     info.ClientID,
		ClientSecret: info.ClientSecret,
		RedirectURI:  info.RedirectURI,
		Scope:        info.Scope,
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "instance"}},
		DoUpdates: clause.AssignmentColumns([]string{"client_id", "client_secret", "redirect_uri", "scope", "updated_at"}),
	}).Create(rec).Error
}

func (s *GormStore) List(ctx context.Context) (map[string]ClientInfo, error) {
	var recs []ClientRecord
	if err := s.db.WithContext(ctx).Order("instance").Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make(map[string]ClientInfo, len(recs))
	for _, rec := range recs {
		out[rec.Instance] = *rec.clientInfo()
	}

	return out, nil
}

func (r *ClientRecord) clientInfo() *ClientInfo {
	return &ClientInfo{
		ClientID:     r.ClientID,
		ClientSecret: r.ClientSecret,
		RedirectURI:  r.RedirectURI,
		Scope:        r.Scope,
	}
}

// SortedInstances returns the keys of a List result in order.
func SortedInstances(entries map[string]ClientInfo) []string {
	out := make([]string, 0, len(entries))
	for k := range entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
