package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"retrace/internal/logging"
	"retrace/internal/session"
)

// Store persists one JSON file per session under a base directory.
type Store struct {
	baseDir string
	logger  logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger overrides the default component logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Store) { s.logger = logging.OrNop(logger) }
}

// New creates a file-backed session store rooted at baseDir. A leading ~/ is
// expanded against the user's home directory.
func New(baseDir string, opts ...Option) *Store {
	if strings.HasPrefix(baseDir, "~/") {
		home, _ := os.UserHomeDir()
		baseDir = filepath.Join(home, baseDir[2:])
	}
	_ = os.MkdirAll(baseDir, 0755) // directory may already exist
	s := &Store{
		baseDir: baseDir,
		logger:  logging.NewComponentLogger("SessionFileStore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%s.json", sessionID))
}

// Create registers a new open session. The file is created exclusively so a
// second Create with the same id fails with ErrDuplicateSession.
func (s *Store) Create(ctx context.Context, sessionID string, metadata map[string]string) (*session.Session, error) {
	sess := session.New(sessionID, metadata)

	data, err := sess.Marshal()
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(s.path(sessionID), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("session %s: %w", sessionID, session.ErrDuplicateSession)
		}
		return nil, fmt.Errorf("create session file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close session file: %w", closeErr)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return nil, fmt.Errorf("write session: %w", err)
	}
	return sess, err
}

// Get loads and validates a stored session.
func (s *Store) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, session.ErrSessionNotFound)
	}
	sess, err := session.Load(data)
	if err != nil {
		s.logger.Error("Failed to load session file %s: %v. Preview: %s", s.path(sessionID), err, preview(data))
		return nil, err
	}
	return sess, nil
}

// GetLenient behaves like Get but first runs a JSON repair pass over the raw
// bytes. A recorder killed mid-write leaves a truncated file; repair usually
// salvages the events written before the crash. Invariant validation still
// applies to whatever is recovered.
func (s *Store) GetLenient(ctx context.Context, sessionID string) (*session.Session, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, session.ErrSessionNotFound)
	}
	if sess, loadErr := session.Load(data); loadErr == nil {
		return sess, nil
	}
	repaired, err := jsonrepair.JSONRepair(string(data))
	if err != nil {
		return nil, &session.CorruptError{SessionID: sessionID, Reason: "unrepairable JSON", Err: err}
	}
	s.logger.Warn("Repaired truncated session file for %s", sessionID)
	return session.Load([]byte(repaired))
}

// Save persists the session's current state, overwriting the previous file.
func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	data, err := sess.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(sess.ID), data, 0644)
}

// List returns the ids of every stored session.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
		}
	}
	return ids, nil
}

// Delete removes a stored session. A missing file is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	err := os.Remove(s.path(sessionID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func preview(data []byte) string {
	const maxPreview = 512
	p := strings.TrimSpace(string(data))
	p = strings.ReplaceAll(p, "\n", " ")
	p = strings.ReplaceAll(p, "\t", " ")
	if len(p) > maxPreview {
		p = p[:maxPreview] + "... (truncated)"
	}
	return p
}

var _ session.Store = (*Store)(nil)
