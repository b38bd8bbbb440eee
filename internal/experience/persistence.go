package experience

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/config"
)

var (
	// ErrPersistenceClosed is returned when writing to a closed persistence layer
	ErrPersistenceClosed = errors.New("persistence layer closed")
	// ErrInvalidPersistenceType is returned when an unknown persistence type is specified
	ErrInvalidPersistenceType = errors.New("invalid persistence type")
)

// PersistenceType represents the type of persistence backend
type PersistenceType string

const (
	// PersistenceTypeNone disables persistence
	PersistenceTypeNone PersistenceType = "none"
	// PersistenceTypeFile writes JSON-lines files
	PersistenceTypeFile PersistenceType = "file"
)

const filePrefix = "transitions_"

// PersistenceConfig contains configuration for the persistence layer
type PersistenceConfig struct {
	Type PersistenceType

	BaseDir          string
	MaxFileSize      int64         // bytes per file before rotating, 0 disables
	RotationInterval time.Duration // 0 disables timed rotation
}

// DefaultPersistenceConfig returns a default persistence configuration
func DefaultPersistenceConfig() PersistenceConfig {
	return PersistenceConfig{
		Type:        PersistenceTypeNone,
		BaseDir:     "experiences",
		MaxFileSize: 64 * 1024 * 1024,
	}
}

// PersistenceConfigFromConfig maps the experience section of the application config
func PersistenceConfigFromConfig(c config.ExperienceConfig) PersistenceConfig {
	pc := DefaultPersistenceConfig()
	pc.Type = PersistenceType(c.Persistence)
	if c.BaseDir != "" {
		pc.BaseDir = c.BaseDir
	}
	pc.MaxFileSize = c.MaxFileSize
	return pc
}

// PersistenceLayer stores transitions outside the process
type PersistenceLayer interface {
	// Write persists a batch of transitions
	Write(ctx context.Context, transitions []*Transition) error

	// Read returns stored transitions, optionally filtered by episode. limit <= 0 reads all.
	Read(ctx context.Context, episodeID string, limit int) ([]*Transition, error)

	// Close flushes and releases resources
	Close() error

	// Stats returns persistence statistics
	Stats() PersistenceStats
}

// PersistenceStats contains statistics about persistence operations
type PersistenceStats struct {
	TotalWritten  int64
	TotalRead     int64
	BytesWritten  int64
	BytesRead     int64
	WriteErrors   int64
	ReadErrors    int64
	FilesCreated  int64
	LastWriteTime time.Time
	LastReadTime  time.Time
}

// FilePersistence writes one protojson-encoded Struct per line
type FilePersistence struct {
	config PersistenceConfig
	logger zerolog.Logger

	mu    sync.RWMutex
	stats PersistenceStats

	currentFile *os.File
	currentPath string
	currentSize int64
	fileIndex   int

	closeChan chan struct{}
	closed    bool
	wg        sync.WaitGroup
}

// NewFilePersistence creates a new file-based persistence layer
func NewFilePersistence(config PersistenceConfig, logger zerolog.Logger) (*FilePersistence, error) {
	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	fp := &FilePersistence{
		config:    config,
		logger:    logger.With().Str("component", "file_persistence").Logger(),
		closeChan: make(chan struct{}),
	}

	if err := fp.rotateFile(); err != nil {
		return nil, err
	}

	if config.RotationInterval > 0 {
		fp.wg.Add(1)
		go fp.rotationLoop()
	}

	return fp, nil
}

// Write persists a batch of transitions to the current file
func (fp *FilePersistence) Write(ctx context.Context, transitions []*Transition) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if fp.closed {
		return ErrPersistenceClosed
	}

	for _, t := range transitions {
		if err := ctx.Err(); err != nil {
			return err
		}

		if fp.config.MaxFileSize > 0 && fp.currentSize >= fp.config.MaxFileSize {
			if err := fp.rotateFile(); err != nil {
				fp.stats.WriteErrors++
				return fmt.Errorf("failed to rotate file: %w", err)
			}
		}

		record, err := t.ToStruct()
		if err != nil {
			fp.stats.WriteErrors++
			return fmt.Errorf("failed to encode transition: %w", err)
		}
		data, err := protojson.Marshal(record)
		if err != nil {
			fp.stats.WriteErrors++
			return fmt.Errorf("failed to marshal transition: %w", err)
		}

		n, err := fp.currentFile.Write(append(data, '\n'))
		if err != nil {
			fp.stats.WriteErrors++
			return fmt.Errorf("failed to write transition: %w", err)
		}

		fp.currentSize += int64(n)
		fp.stats.TotalWritten++
		fp.stats.BytesWritten += int64(n)
	}

	if err := fp.currentFile.Sync(); err != nil {
		fp.logger.Warn().Err(err).Msg("Failed to sync file")
	}

	fp.stats.LastWriteTime = time.Now()

	fp.logger.Debug().
		Int("batch_size", len(transitions)).
		Int64("file_size", fp.currentSize).
		Msg("Wrote transition batch to file")

	return nil
}

// Read scans every transition file in write order
func (fp *FilePersistence) Read(ctx context.Context, episodeID string, limit int) ([]*Transition, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(fp.config.BaseDir, filePrefix+"*.jsonl"))
	if err != nil {
		fp.stats.ReadErrors++
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	var transitions []*Transition
	for _, file := range files {
		if limit > 0 && len(transitions) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return transitions, err
		}

		remaining := 0
		if limit > 0 {
			remaining = limit - len(transitions)
		}
		ts, err := fp.readFile(file, episodeID, remaining)
		if err != nil {
			fp.stats.ReadErrors++
			fp.logger.Warn().
				Err(err).
				Str("file", file).
				Msg("Failed to read transition file")
			continue
		}

		transitions = append(transitions, ts...)
	}

	fp.stats.LastReadTime = time.Now()
	fp.stats.TotalRead += int64(len(transitions))

	return transitions, nil
}

func (fp *FilePersistence) readFile(filename, episodeID string, limit int) ([]*Transition, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var transitions []*Transition
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if limit > 0 && len(transitions) >= limit {
			break
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var record structpb.Struct
		if err := protojson.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transition: %w", err)
		}
		t, err := TransitionFromStruct(&record)
		if err != nil {
			return nil, err
		}

		if episodeID == "" || t.EpisodeID == episodeID {
			transitions = append(transitions, t)
			fp.stats.BytesRead += int64(len(line))
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}

	return transitions, nil
}

// CurrentFile returns the path being written to
func (fp *FilePersistence) CurrentFile() string {
	fp.mu.RLock()
	defer fp.mu.RUnlock()
	return fp.currentPath
}

// rotateFile closes the current file and opens a new one. Must be called with mu held.
func (fp *FilePersistence) rotateFile() error {
	if fp.currentFile != nil {
		if err := fp.currentFile.Close(); err != nil {
			fp.logger.Warn().Err(err).Msg("Failed to close previous file")
		}
	}

	timestamp := time.Now().UTC().Format("20060102_150405")
	var filename string
	for {
		filename = filepath.Join(fp.config.BaseDir, fmt.Sprintf("%s%s_%04d.jsonl", filePrefix, timestamp, fp.fileIndex))
		fp.fileIndex++
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			break
		}
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	fp.currentFile = file
	fp.currentPath = filename
	fp.currentSize = 0
	fp.stats.FilesCreated++

	fp.logger.Info().
		Str("filename", filename).
		Msg("Rotated to new transition file")

	return nil
}

func (fp *FilePersistence) rotationLoop() {
	defer fp.wg.Done()

	ticker := time.NewTicker(fp.config.RotationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fp.mu.Lock()
			if !fp.closed && fp.currentSize > 0 {
				if err := fp.rotateFile(); err != nil {
					fp.logger.Error().Err(err).Msg("Failed to rotate file")
				}
			}
			fp.mu.Unlock()

		case <-fp.closeChan:
			return
		}
	}
}

// Close stops timed rotation and closes the current file
func (fp *FilePersistence) Close() error {
	fp.mu.Lock()
	if fp.closed {
		fp.mu.Unlock()
		return nil
	}
	fp.closed = true
	close(fp.closeChan)
	fp.mu.Unlock()

	fp.wg.Wait()

	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.currentFile != nil {
		return fp.currentFile.Close()
	}
	return nil
}

// Stats returns persistence statistics
func (fp *FilePersistence) Stats() PersistenceStats {
	fp.mu.RLock()
	defer fp.mu.RUnlock()
	return fp.stats
}

// NullPersistence discards everything
type NullPersistence struct{}

func (NullPersistence) Write(ctx context.Context, transitions []*Transition) error { return nil }

func (NullPersistence) Read(ctx context.Context, episodeID string, limit int) ([]*Transition, error) {
	return nil, nil
}

func (NullPersistence) Close() error             { return nil }
func (NullPersistence) Stats() PersistenceStats { return PersistenceStats{} }

// NewPersistenceLayer creates a persistence layer based on configuration
func NewPersistenceLayer(config PersistenceConfig, logger zerolog.Logger) (PersistenceLayer, error) {
	switch config.Type {
	case PersistenceTypeNone, "":
		return NullPersistence{}, nil
	case PersistenceTypeFile:
		return NewFilePersistence(config, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidPersistenceType, config.Type)
	}
}
