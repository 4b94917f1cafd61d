package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ravik/senna/internal/observability"
	"github.com/ravik/senna/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// envelope is one JSONL line in a session file. A "state" line carries a
// full session snapshot; a "message" line carries one message appended
// after the most recent snapshot.
type envelope struct {
	Kind    string   `json:"kind"`
	State   *Session `json:"state,omitempty"`
	Message *Message `json:"message,omitempty"`
}

const (
	kindState   = "state"
	kindMessage = "message"
)

// Store persists sessions as JSONL files, one per session key. Normal turns
// append message lines; compression rewrites the file with a fresh snapshot
// so the removed prefix is gone on disk too.
type Store struct {
	sessionsDir string
	writeLocks  map[string]*sync.Mutex
	locksMu     sync.RWMutex
}

// NewStore creates a session store rooted at sessionsDir.
func NewStore(sessionsDir string) (*Store, error) {
	observability.EnsureRegistered()

	if sessionsDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		sessionsDir = filepath.Join(homeDir, ".senna", "sessions")
	}

	if err := os.MkdirAll(sessionsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	st := &Store{
		sessionsDir: sessionsDir,
		writeLocks:  make(map[string]*sync.Mutex),
	}

	log.Info().Str("dir", sessionsDir).Msg("Session store initialized")
	st.updateActiveSessionsMetric()

	return st, nil
}

// ValidateKey validates a session key for use as a file name.
func ValidateKey(sessionKey string) error {
	if sessionKey == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.Contains(sessionKey, "..") {
		return fmt.Errorf("session key cannot contain '..'")
	}
	if strings.ContainsAny(sessionKey, "/\\") {
		return fmt.Errorf("session key cannot contain path separators")
	}
	if strings.Contains(sessionKey, "\x00") {
		return fmt.Errorf("session key cannot contain null bytes")
	}
	return nil
}

func (st *Store) sessionPath(sessionKey string) string {
	return filepath.Join(st.sessionsDir, sessionKey+".jsonl")
}

func (st *Store) updateActiveSessionsMetric() {
	sessions, err := st.List()
	if err != nil {
		return
	}
	observability.SetActiveSessions(len(sessions))
}

func (st *Store) getWriteLock(sessionKey string) *sync.Mutex {
	st.locksMu.Lock()
	defer st.locksMu.Unlock()

	if lock, exists := st.writeLocks[sessionKey]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	st.writeLocks[sessionKey] = lock
	return lock
}

func (st *Store) releaseWriteLock(sessionKey string) {
	st.locksMu.Lock()
	defer st.locksMu.Unlock()
	delete(st.writeLocks, sessionKey)
}

// Load reads a session from disk. A missing file yields a fresh empty
// session for the key; corrupt lines are skipped, not fatal.
func (st *Store) Load(ctx context.Context, sessionKey string) (*Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionKey(ctx, sessionKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"senna.session",
		"session.load",
		attribute.String("session_key", sessionKey),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
	}()

	if err := ValidateKey(sessionKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	sessionPath := st.sessionPath(sessionKey)

	if _, err := os.Stat(sessionPath); os.IsNotExist(err) {
		logger.Debug().Msg("Session does not exist, starting fresh")
		return New(sessionKey, "", ""), nil
	}

	file, err := os.Open(sessionPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	sess := New(sessionKey, "", "")
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		var env envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			logger.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse line, skipping")
			continue
		}

		switch env.Kind {
		case kindState:
			if env.State == nil {
				logger.Warn().Int("line", lineNum).Msg("State line missing payload, skipping")
				continue
			}
			sess = env.State
			if sess.ID == "" {
				sess.ID = sessionKey
			}
		case kindMessage:
			if env.Message == nil || env.Message.Role == "" {
				logger.Warn().Int("line", lineNum).Msg("Invalid message line, skipping")
				continue
			}
			sess.Append(*env.Message)
		default:
			logger.Warn().Int("line", lineNum).Str("kind", env.Kind).Msg("Unknown line kind, skipping")
		}
	}

	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	logger.Debug().Int("messages", len(sess.Messages)).Msg("Session loaded")

	return sess, nil
}

// Append durably appends one message to the session file.
func (st *Store) Append(ctx context.Context, sessionKey string, message Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionKey(ctx, sessionKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"senna.session",
		"session.append_message",
		attribute.String("session_key", sessionKey),
		attribute.String("role", message.Role),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	if err := ValidateKey(sessionKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if message.Role == "" {
		return fmt.Errorf("message role cannot be empty")
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}

	lock := st.getWriteLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	sessionPath := st.sessionPath(sessionKey)
	existed := true
	if _, err := os.Stat(sessionPath); os.IsNotExist(err) {
		existed = false
	}

	file, err := os.OpenFile(sessionPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(envelope{Kind: kindMessage, Message: &message})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write message: %w", err)
	}

	if err := file.Sync(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to sync file: %w", err)
	}

	if !existed {
		st.updateActiveSessionsMetric()
	}

	logger.Debug().Str("role", message.Role).Msg("Message appended")

	return nil
}

// Snapshot atomically rewrites the session file as a single state line.
// Called after compression so the removed prefix does not linger on disk.
func (st *Store) Snapshot(ctx context.Context, sessionKey string, sess *Session) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionKey(ctx, sessionKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"senna.session",
		"session.snapshot",
		attribute.String("session_key", sessionKey),
		attribute.Int("messages", len(sess.Messages)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	if err := ValidateKey(sessionKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	lock := st.getWriteLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	sessionPath := st.sessionPath(sessionKey)
	tempPath := sessionPath + ".tmp"

	data, err := json.Marshal(envelope{Kind: kindState, State: sess})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		file.Close()
		os.Remove(tempPath)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to sync file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, sessionPath); err != nil {
		os.Remove(tempPath)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	st.updateActiveSessionsMetric()
	logger.Info().Int("messages", len(sess.Messages)).Msg("Session snapshot written")

	return nil
}

// Delete removes a session file.
func (st *Store) Delete(ctx context.Context, sessionKey string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionKey(ctx, sessionKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"senna.session",
		"session.delete",
		attribute.String("session_key", sessionKey),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if err := ValidateKey(sessionKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	lock := st.getWriteLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	sessionPath := st.sessionPath(sessionKey)

	if err := os.Remove(sessionPath); err != nil && !os.IsNotExist(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to delete session file: %w", err)
	}

	st.releaseWriteLock(sessionKey)
	st.updateActiveSessionsMetric()

	logger.Info().Msg("Session deleted")

	return nil
}

// List lists all session keys in the store.
func (st *Store) List() ([]string, error) {
	entries, err := os.ReadDir(st.sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var sessions []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}

		sessions = append(sessions, strings.TrimSuffix(name, ".jsonl"))
	}

	return sessions, nil
}

// Close releases store state.
func (st *Store) Close() error {
	st.locksMu.Lock()
	st.writeLocks = make(map[string]*sync.Mutex)
	st.locksMu.Unlock()

	log.Info().Msg("Session store closed")

	return nil
}
