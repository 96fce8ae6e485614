package filestore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuongbtq/speech-relay/internal/worker/domain"
	"github.com/cuongbtq/speech-relay/internal/worker/schedule"
)

const (
	uploadsDirName = "uploads"
	outputsDirName = "outputs"

	// defaultUploadExt is used when the filename hint carries no usable extension
	defaultUploadExt = ".wav"
	outputExt        = ".wav"
	outputPrefix     = "tts_"
)

var errOutsideRoot = errors.New("path is outside the storage root")

// Config holds file store configuration
type Config struct {
	Root         string
	OutputGrace  time.Duration
	OutputMaxAge time.Duration
	Scheduler    *schedule.Scheduler
	Logger       *slog.Logger
}

// Store owns uploaded inputs and generated outputs under a single root directory
type Store struct {
	root       string
	uploadsDir string
	outputsDir string
	grace      time.Duration
	maxAge     time.Duration
	scheduler  *schedule.Scheduler
	logger     *slog.Logger
}

// New creates the storage directories and returns a Store
func New(cfg *Config) (*Store, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, &domain.StorageError{Op: "resolve root", Path: cfg.Root, Err: err}
	}

	s := &Store{
		root:       root,
		uploadsDir: filepath.Join(root, uploadsDirName),
		outputsDir: filepath.Join(root, outputsDirName),
		grace:      cfg.OutputGrace,
		maxAge:     cfg.OutputMaxAge,
		scheduler:  cfg.Scheduler,
		logger:     cfg.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.scheduler == nil {
		s.scheduler = schedule.New(nil, s.logger)
	}

	for _, dir := range []string{s.uploadsDir, s.outputsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &domain.StorageError{Op: "create directory", Path: dir, Err: err}
		}
	}

	s.logger.Info("File store initialized",
		slog.String("root", s.root),
		slog.Duration("output_grace", s.grace),
		slog.Duration("output_max_age", s.maxAge),
	)

	return s, nil
}

// Root returns the absolute storage root
func (s *Store) Root() string {
	return s.root
}

// Save writes an uploaded clip to a new uniquely named file and returns its path
func (s *Store) Save(data []byte, filenameHint string) (string, error) {
	if len(data) == 0 {
		return "", domain.ErrEmptyAudio
	}

	f, err := os.CreateTemp(s.uploadsDir, "upload-*"+uploadExt(filenameHint))
	if err != nil {
		return "", &domain.StorageError{Op: "create upload", Path: s.uploadsDir, Err: err}
	}
	path := f.Name()

	if err := writeAndClose(f, data); err != nil {
		s.removeQuietly(path)
		return "", &domain.StorageError{Op: "write upload", Path: path, Err: err}
	}

	s.logger.Debug("Upload stored",
		slog.String("path", path),
		slog.Int("size", len(data)),
	)

	return path, nil
}

// WriteOutput stores generated audio for a session and returns its reference.
// The artifact is deleted once it exceeds the maximum unclaimed age.
func (s *Store) WriteOutput(sessionID string, data []byte) (string, error) {
	ref := outputPrefix + sessionID + outputExt
	if !validRef(ref) {
		return "", &domain.StorageError{Op: "write output", Path: ref, Err: fmt.Errorf("invalid session id %q", sessionID)}
	}
	path := filepath.Join(s.outputsDir, ref)

	// O_EXCL keeps an existing artifact from being overwritten
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", &domain.StorageError{Op: "create output", Path: path, Err: err}
	}

	if err := writeAndClose(f, data); err != nil {
		s.removeQuietly(path)
		return "", &domain.StorageError{Op: "write output", Path: path, Err: err}
	}

	if s.maxAge > 0 {
		s.scheduler.Once(expireKey(path), s.maxAge, func() {
			s.deleteLogged(path, "max_age")
		})
	}

	s.logger.Info("Output artifact stored",
		slog.String("ref", ref),
		slog.Int("size", len(data)),
	)

	return ref, nil
}

// ConsumeOutput reads a generated artifact. The first successful read schedules
// deletion after the grace delay; repeated reads inside that window see the same bytes.
func (s *Store) ConsumeOutput(ref string) ([]byte, error) {
	if !validRef(ref) {
		return nil, domain.ErrNotFound
	}
	path := filepath.Join(s.outputsDir, ref)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, &domain.StorageError{Op: "read output", Path: path, Err: err}
	}

	if s.scheduler.Once(graceKey(path), s.grace, func() {
		s.deleteLogged(path, "served")
	}) {
		s.logger.Info("Output served, deletion scheduled",
			slog.String("ref", ref),
			slog.Duration("after", s.grace),
		)
	}

	return data, nil
}

// OutputExists reports whether the referenced artifact is still on disk
func (s *Store) OutputExists(ref string) bool {
	if !validRef(ref) {
		return false
	}
	_, err := os.Stat(filepath.Join(s.outputsDir, ref))
	return err == nil
}

// ScheduleDelete deletes path once after at least the given duration.
// Failures are logged, never returned.
func (s *Store) ScheduleDelete(path string, after time.Duration) {
	s.scheduler.Once(deleteKey(path), after, func() {
		s.deleteLogged(path, "scheduled")
	})
}

// DeleteNow removes path immediately. Deleting a missing file is not an error.
func (s *Store) DeleteNow(path string) error {
	if !s.contains(path) {
		return &domain.StorageError{Op: "delete", Path: path, Err: errOutsideRoot}
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &domain.StorageError{Op: "delete", Path: path, Err: err}
	}

	// Nothing is left for pending tasks on this path to do
	s.scheduler.Cancel(expireKey(path))
	return nil
}

// Sweep clears what a previous process left behind. Uploads can no longer be
// claimed by any job and are removed; outputs keep their max-age deadline,
// measured from their modification time.
func (s *Store) Sweep() error {
	uploads, err := os.ReadDir(s.uploadsDir)
	if err != nil {
		return &domain.StorageError{Op: "sweep", Path: s.uploadsDir, Err: err}
	}
	for _, entry := range uploads {
		if entry.IsDir() {
			continue
		}
		s.deleteLogged(filepath.Join(s.uploadsDir, entry.Name()), "sweep")
	}

	outputs, err := os.ReadDir(s.outputsDir)
	if err != nil {
		return &domain.StorageError{Op: "sweep", Path: s.outputsDir, Err: err}
	}

	now := s.scheduler.Clock().Now()
	rescheduled := 0
	for _, entry := range outputs {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(s.outputsDir, entry.Name())
		remaining := s.maxAge - now.Sub(info.ModTime())
		s.scheduler.Once(expireKey(path), remaining, func() {
			s.deleteLogged(path, "max_age")
		})
		rescheduled++
	}

	s.logger.Info("Storage sweep finished",
		slog.Int("uploads_removed", len(uploads)),
		slog.Int("outputs_rescheduled", rescheduled),
	)

	return nil
}

// deleteLogged deletes path and logs the outcome
func (s *Store) deleteLogged(path, reason string) {
	if err := s.DeleteNow(path); err != nil {
		s.logger.Error("Failed to delete file",
			slog.String("path", path),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Debug("File deleted",
		slog.String("path", path),
		slog.String("reason", reason),
	)
}

func (s *Store) removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("Failed to remove partial file",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// contains reports whether path lies inside the storage root
func (s *Store) contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func writeAndClose(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// uploadExt derives a safe file extension from the client supplied name
func uploadExt(hint string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(hint)))
	if len(ext) < 2 || len(ext) > 6 {
		return defaultUploadExt
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return defaultUploadExt
		}
	}
	return ext
}

// validRef accepts plain file names of generated artifacts only
func validRef(ref string) bool {
	if ref == "" || ref != filepath.Base(ref) {
		return false
	}
	if !strings.HasPrefix(ref, outputPrefix) || !strings.HasSuffix(ref, outputExt) {
		return false
	}
	return len(ref) > len(outputPrefix)+len(outputExt)
}

func deleteKey(path string) string { return "delete:" + path }
func graceKey(path string) string  { return "grace:" + path }
func expireKey(path string) string { return "expire:" + path }
