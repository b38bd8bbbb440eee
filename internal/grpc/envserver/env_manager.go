package envserver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/events"
)

var (
	ErrEnvNotFound = errors.New("environment not found")
	ErrAtCapacity  = errors.New("server at capacity")
)

const (
	defaultCleanupInterval = time.Minute
	cleanupRestartDelay    = 5 * time.Second
)

// envSession is one hosted environment. mu serialises every call into env.
type envSession struct {
	id  string
	env *env.Environment
	mu  sync.Mutex

	createdAt    time.Time
	lastActivity time.Time

	idempotency *IdempotencyManager
}

// ManagerConfig configures an EnvManager
type ManagerConfig struct {
	MaxEnvs         int           // 0 means unlimited
	IdleTimeout     time.Duration // 0 disables idle reaping
	CleanupInterval time.Duration
	Settings        env.Settings
	Publisher       events.Publisher
}

// EnvManager owns all environments hosted by the server
type EnvManager struct {
	mu       sync.RWMutex
	envs     map[string]*envSession
	reserved int // slots held by creates still building their environment
	config   ManagerConfig

	now    func() time.Time
	newID  func() string
	logger zerolog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewEnvManager creates a manager. Call Start to begin idle reaping.
func NewEnvManager(config ManagerConfig, logger zerolog.Logger) *EnvManager {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaultCleanupInterval
	}
	if config.Publisher == nil {
		config.Publisher = events.NopPublisher{}
	}
	return &EnvManager{
		envs:   make(map[string]*envSession),
		config: config,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logger.With().Str("component", "env_manager").Logger(),
		stopCh: make(chan struct{}),
	}
}

// Create builds a new environment and registers it. The capacity slot is
// reserved before the environment exists, so a rejected create publishes nothing.
func (m *EnvManager) Create() (*envSession, error) {
	m.mu.Lock()
	current := len(m.envs) + m.reserved
	if m.config.MaxEnvs > 0 && current >= m.config.MaxEnvs {
		m.mu.Unlock()
		m.logger.Warn().
			Int("current_envs", current).
			Int("max_envs", m.config.MaxEnvs).
			Msg("Rejecting environment creation - server at capacity")
		return nil, fmt.Errorf("%w: %d/%d environments active", ErrAtCapacity, current, m.config.MaxEnvs)
	}
	m.reserved++
	m.mu.Unlock()

	id := m.newID()
	e, err := env.New(
		env.WithSettings(m.config.Settings),
		env.WithID(id),
		env.WithPublisher(m.config.Publisher),
		env.WithLogger(m.logger),
	)
	if err != nil {
		m.mu.Lock()
		m.reserved--
		m.mu.Unlock()
		return nil, fmt.Errorf("create environment: %w", err)
	}

	now := m.now()
	session := &envSession{
		id:           id,
		env:          e,
		createdAt:    now,
		lastActivity: now,
		idempotency:  NewIdempotencyManager(),
	}

	m.mu.Lock()
	m.reserved--
	m.envs[id] = session
	count := len(m.envs)
	m.mu.Unlock()

	m.logger.Info().
		Str("env_id", id).
		Str("episode_id", e.EpisodeID()).
		Int("current_envs", count).
		Int("max_envs", m.config.MaxEnvs).
		Msg("Created environment")

	return session, nil
}

// Get looks up an environment and marks it active
func (m *EnvManager) Get(id string) (*envSession, error) {
	m.mu.RLock()
	session, ok := m.envs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEnvNotFound, id)
	}

	session.mu.Lock()
	session.lastActivity = m.now()
	session.mu.Unlock()
	return session, nil
}

// Close removes an environment
func (m *EnvManager) Close(id string) error {
	m.mu.Lock()
	_, ok := m.envs[id]
	delete(m.envs, id)
	remaining := len(m.envs)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrEnvNotFound, id)
	}
	m.logger.Info().Str("env_id", id).Int("remaining", remaining).Msg("Closed environment")
	return nil
}

// Count returns the number of hosted environments
func (m *EnvManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.envs)
}

// Start launches the idle reaper when an idle timeout is configured
func (m *EnvManager) Start() {
	if m.config.IdleTimeout <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runCleanup()
	}()
}

// Stop halts the idle reaper and drops every environment
func (m *EnvManager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	m.mu.Lock()
	n := len(m.envs)
	m.envs = make(map[string]*envSession)
	m.mu.Unlock()
	m.logger.Info().Int("closed", n).Msg("Environment manager stopped")
}

// runCleanup periodically removes idle environments
func (m *EnvManager) runCleanup() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Interface("panic", r).
				Msg("Environment cleanup goroutine panicked - restarting")
			select {
			case <-m.stopCh:
				return
			case <-time.After(cleanupRestartDelay):
			}
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.runCleanup()
			}()
		}
	}()

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.cleanupIdle()
		}
	}
}

// cleanupIdle removes environments with no activity for longer than the idle
// timeout and returns how many were removed
func (m *EnvManager) cleanupIdle() int {
	if m.config.IdleTimeout <= 0 {
		return 0
	}

	// Phase 1: snapshot sessions without touching their locks
	m.mu.RLock()
	sessions := make([]*envSession, 0, len(m.envs))
	for _, s := range m.envs {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	// Phase 2: inspect each session on its own
	now := m.now()
	var toDelete []string
	for _, s := range sessions {
		s.mu.Lock()
		idle := now.Sub(s.lastActivity)
		age := now.Sub(s.createdAt)
		s.mu.Unlock()

		if idle > m.config.IdleTimeout {
			toDelete = append(toDelete, s.id)
			m.logger.Info().
				Str("env_id", s.id).
				Dur("age", age).
				Dur("inactive", idle).
				Msg("Cleaning up idle environment")
		}
	}

	if len(toDelete) == 0 {
		return 0
	}

	// Phase 3: remove under a single lock
	m.mu.Lock()
	for _, id := range toDelete {
		delete(m.envs, id)
	}
	remaining := len(m.envs)
	m.mu.Unlock()

	m.logger.Info().
		Int("cleaned", len(toDelete)).
		Int("remaining", remaining).
		Msg("Environment cleanup completed")
	return len(toDelete)
}
