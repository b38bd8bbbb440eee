// Package envserver hosts dental scanner environments behind a gRPC service.
//
// Messages are google.protobuf.Struct values:
//
//	CreateEnvironment {}                                   -> {env_id, episode_id, observation, action_space, observation_space}
//	Reset             {env_id}                             -> {env_id, episode_id, observation}
//	Step              {env_id, action, idempotency_key?}   -> {env_id, observation, reward, terminated, truncated, info}
//	Observe           {env_id}                             -> {env_id, episode_id, observation, position, phase, total_reward, counters}
//	CloseEnvironment  {env_id}                             -> {}
package envserver

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/core"
)

// Server implements EnvironmentServiceServer
type Server struct {
	manager *EnvManager
	logger  zerolog.Logger
}

var _ EnvironmentServiceServer = (*Server)(nil)

// NewServer creates a server and starts its manager's idle reaper
func NewServer(config ManagerConfig, logger zerolog.Logger) *Server {
	m := NewEnvManager(config, logger)
	m.Start()
	return &Server{
		manager: m,
		logger:  logger.With().Str("component", "env_server").Logger(),
	}
}

// Manager exposes the environment manager
func (s *Server) Manager() *EnvManager { return s.manager }

// Stop shuts down the manager
func (s *Server) Stop() { s.manager.Stop() }

// CreateEnvironment creates a new environment and returns its first observation
func (s *Server) CreateEnvironment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	session, err := s.manager.Create()
	if err != nil {
		return nil, toStatus(err, "failed to create environment")
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	resp := stateToStruct(session.id, session.env)
	spacesToFields(resp.Fields, session.env)
	return resp, nil
}

// Reset starts a new episode
func (s *Server) Reset(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	session, err := s.session(req)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	obs := session.env.Reset()
	s.logger.Debug().
		Str("env_id", session.id).
		Str("episode_id", session.env.EpisodeID()).
		Msg("Episode reset")

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldEnvID:       structpb.NewStringValue(session.id),
		fieldEpisodeID:   structpb.NewStringValue(session.env.EpisodeID()),
		fieldObservation: observationToValue(obs),
	}}, nil
}

// Step applies one action. A repeated idempotency key returns the first response
// without stepping again.
func (s *Server) Step(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	session, err := s.session(req)
	if err != nil {
		return nil, err
	}

	key := optionalString(req, fieldIdempotencyKey)
	if cached := session.idempotency.Check(key); cached != nil {
		s.logger.Debug().
			Str("env_id", session.id).
			Str("idempotency_key", key).
			Msg("Returning cached step response")
		return cached, nil
	}

	action, err := requireAction(req)
	if err != nil {
		return nil, toStatus(err, "bad step request")
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	// a concurrent retry may have finished while we waited for the lock
	if cached := session.idempotency.Check(key); cached != nil {
		return cached, nil
	}

	start := time.Now()
	res, err := session.env.Step(action)
	if err != nil {
		return nil, toStatus(err, "step rejected")
	}

	resp := stepResultToStruct(session.id, res)
	session.idempotency.Store(key, resp)

	s.logger.Debug().
		Str("env_id", session.id).
		Str("action", action.String()).
		Float64("reward", res.Reward).
		Bool("terminated", res.Terminated).
		Bool("truncated", res.Truncated).
		Dur("duration", time.Since(start)).
		Msg("Step processed")

	return resp, nil
}

// Observe returns the current observation and episode state without side effects
func (s *Server) Observe(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	session, err := s.session(req)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	return stateToStruct(session.id, session.env), nil
}

// CloseEnvironment drops an environment
func (s *Server) CloseEnvironment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireString(req, fieldEnvID)
	if err != nil {
		return nil, toStatus(err, "bad close request")
	}
	if err := s.manager.Close(id); err != nil {
		return nil, toStatus(err, "failed to close environment")
	}
	return &structpb.Struct{}, nil
}

func (s *Server) session(req *structpb.Struct) (*envSession, error) {
	id, err := requireString(req, fieldEnvID)
	if err != nil {
		return nil, toStatus(err, "bad request")
	}
	session, err := s.manager.Get(id)
	if err != nil {
		return nil, toStatus(err, "lookup failed")
	}
	return session, nil
}

// toStatus maps domain errors onto gRPC status codes
func toStatus(err error, msg string) error {
	code := codes.Internal
	switch {
	case errors.Is(err, ErrEnvNotFound):
		code = codes.NotFound
	case errors.Is(err, ErrAtCapacity):
		code = codes.ResourceExhausted
	case errors.Is(err, core.ErrInvalidAction):
		code = codes.InvalidArgument
	case errors.Is(err, core.ErrEpisodeOver):
		code = codes.FailedPrecondition
	case errors.Is(err, errBadRequest):
		code = codes.InvalidArgument
	}
	return status.Errorf(code, "%s: %v", msg, err)
}
