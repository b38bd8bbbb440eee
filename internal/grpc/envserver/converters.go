package envserver

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/core"
)

// Request and response field names
const (
	fieldEnvID            = "env_id"
	fieldEpisodeID        = "episode_id"
	fieldAction           = "action"
	fieldIdempotencyKey   = "idempotency_key"
	fieldObservation      = "observation"
	fieldReward           = "reward"
	fieldTerminated       = "terminated"
	fieldTruncated        = "truncated"
	fieldInfo             = "info"
	fieldPosition         = "position"
	fieldPhase            = "phase"
	fieldTotalReward      = "total_reward"
	fieldActionSpace      = "action_space"
	fieldObservationSpace = "observation_space"
)

var errBadRequest = errors.New("malformed request")

func observationToValue(obs env.Observation) *structpb.Value {
	rows := make([]*structpb.Value, len(obs))
	for r, row := range obs {
		cells := make([]*structpb.Value, len(row))
		for c, v := range row {
			cells[c] = structpb.NewNumberValue(float64(v))
		}
		rows[r] = structpb.NewListValue(&structpb.ListValue{Values: cells})
	}
	return structpb.NewListValue(&structpb.ListValue{Values: rows})
}

// ObservationFromStruct reads the observation field of a response
func ObservationFromStruct(s *structpb.Struct) (env.Observation, error) {
	v, ok := s.GetFields()[fieldObservation]
	if !ok {
		return nil, fmt.Errorf("response has no %s", fieldObservation)
	}
	rows := v.GetListValue()
	if rows == nil {
		return nil, fmt.Errorf("%s is not a list", fieldObservation)
	}

	obs := make(env.Observation, len(rows.GetValues()))
	for r, rowVal := range rows.GetValues() {
		row := rowVal.GetListValue()
		if row == nil {
			return nil, fmt.Errorf("%s row %d is not a list", fieldObservation, r)
		}
		obs[r] = make([]int, len(row.GetValues()))
		for c, cell := range row.GetValues() {
			obs[r][c] = int(cell.GetNumberValue())
		}
	}
	return obs, nil
}

func positionToValue(c core.Coordinate) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"row": structpb.NewNumberValue(float64(c.Row)),
		"col": structpb.NewNumberValue(float64(c.Col)),
	}})
}

func countersToFields(fields map[string]*structpb.Value, c env.Counters) {
	fields["retry_count"] = structpb.NewNumberValue(float64(c.RetryCount))
	fields["invalid_action_count"] = structpb.NewNumberValue(float64(c.InvalidActionCount))
	fields["step_count"] = structpb.NewNumberValue(float64(c.StepCount))
}

func infoToValue(info env.Info) *structpb.Value {
	fields := map[string]*structpb.Value{
		fieldEpisodeID: structpb.NewStringValue(info.EpisodeID),
		fieldPosition:  positionToValue(info.Position),
		"cell":         structpb.NewStringValue(info.Cell.String()),
		"invalid":      structpb.NewBoolValue(info.Invalid),
		"end_reason":   structpb.NewStringValue(string(info.EndReason)),
	}
	countersToFields(fields, info.Counters)
	return structpb.NewStructValue(&structpb.Struct{Fields: fields})
}

func stepResultToStruct(envID string, res env.StepResult) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldEnvID:       structpb.NewStringValue(envID),
		fieldObservation: observationToValue(res.Observation),
		fieldReward:      structpb.NewNumberValue(res.Reward),
		fieldTerminated:  structpb.NewBoolValue(res.Terminated),
		fieldTruncated:   structpb.NewBoolValue(res.Truncated),
		fieldInfo:        infoToValue(res.Info),
	}}
}

func spacesToFields(fields map[string]*structpb.Value, e *env.Environment) {
	as := e.ActionSpace()
	os := e.ObservationSpace()
	fields[fieldActionSpace] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"n": structpb.NewNumberValue(float64(as.N)),
	}})
	fields[fieldObservationSpace] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"rows": structpb.NewNumberValue(float64(os.Rows)),
		"cols": structpb.NewNumberValue(float64(os.Cols)),
		"low":  structpb.NewNumberValue(float64(os.Low)),
		"high": structpb.NewNumberValue(float64(os.High)),
	}})
}

func stateToStruct(envID string, e *env.Environment) *structpb.Struct {
	fields := map[string]*structpb.Value{
		fieldEnvID:       structpb.NewStringValue(envID),
		fieldEpisodeID:   structpb.NewStringValue(e.EpisodeID()),
		fieldObservation: observationToValue(e.Observe()),
		fieldPosition:    positionToValue(e.Position()),
		fieldPhase:       structpb.NewStringValue(e.Phase().String()),
		fieldTotalReward: structpb.NewNumberValue(e.TotalReward()),
	}
	countersToFields(fields, e.Counters())
	return &structpb.Struct{Fields: fields}
}

func requireString(req *structpb.Struct, field string) (string, error) {
	v, ok := req.GetFields()[field]
	if !ok {
		return "", fmt.Errorf("%w: %s is required", errBadRequest, field)
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok || s.StringValue == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", errBadRequest, field)
	}
	return s.StringValue, nil
}

func optionalString(req *structpb.Struct, field string) string {
	return req.GetFields()[field].GetStringValue()
}

// requireAction reads an integral action number. Range checking is left to the
// environment so out of range values surface as ErrInvalidAction.
func requireAction(req *structpb.Struct) (core.Action, error) {
	v, ok := req.GetFields()[fieldAction]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", errBadRequest, fieldAction)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a number", errBadRequest, fieldAction)
	}
	f := n.NumberValue
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %v is not an integer action", core.ErrInvalidAction, f)
	}
	return core.Action(int(f)), nil
}

// NewStepRequest builds a Step request
func NewStepRequest(envID string, a core.Action, idempotencyKey string) *structpb.Struct {
	fields := map[string]*structpb.Value{
		fieldEnvID:  structpb.NewStringValue(envID),
		fieldAction: structpb.NewNumberValue(float64(a)),
	}
	if idempotencyKey != "" {
		fields[fieldIdempotencyKey] = structpb.NewStringValue(idempotencyKey)
	}
	return &structpb.Struct{Fields: fields}
}

// NewEnvRequest builds a request that only names an environment
func NewEnvRequest(envID string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldEnvID: structpb.NewStringValue(envID),
	}}
}
