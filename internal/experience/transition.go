package experience

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/core"
)

// ErrMalformedTransition is returned when a stored record cannot be decoded
var ErrMalformedTransition = errors.New("malformed transition record")

// Transition is one (s, a, r, s') sample. Observations are stored flattened row-major.
type Transition struct {
	ID              string
	EnvID           string
	EpisodeID       string
	Step            int
	Rows            int
	Cols            int
	Observation     []int
	Action          int
	Reward          float64
	NextObservation []int
	Terminated      bool
	Truncated       bool
	Position        core.Coordinate // agent cell after the step
	RecordedAt      time.Time
}

// Done reports whether the transition closed its episode
func (t *Transition) Done() bool {
	return t.Terminated || t.Truncated
}

// ToStruct encodes the transition as a protobuf Struct
func (t *Transition) ToStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"id":               t.ID,
		"env_id":           t.EnvID,
		"episode_id":       t.EpisodeID,
		"step":             t.Step,
		"rows":             t.Rows,
		"cols":             t.Cols,
		"observation":      intsToList(t.Observation),
		"action":           t.Action,
		"reward":           t.Reward,
		"next_observation": intsToList(t.NextObservation),
		"terminated":       t.Terminated,
		"truncated":        t.Truncated,
		"position": map[string]interface{}{
			"row": t.Position.Row,
			"col": t.Position.Col,
		},
		"recorded_at": t.RecordedAt.UTC().Format(time.RFC3339Nano),
	})
}

// TransitionFromStruct decodes a record written by ToStruct
func TransitionFromStruct(s *structpb.Struct) (*Transition, error) {
	if s == nil {
		return nil, ErrMalformedTransition
	}
	f := s.GetFields()

	obs, err := listToInts(f["observation"])
	if err != nil {
		return nil, fmt.Errorf("%w: observation: %v", ErrMalformedTransition, err)
	}
	next, err := listToInts(f["next_observation"])
	if err != nil {
		return nil, fmt.Errorf("%w: next_observation: %v", ErrMalformedTransition, err)
	}

	t := &Transition{
		ID:              f["id"].GetStringValue(),
		EnvID:           f["env_id"].GetStringValue(),
		EpisodeID:       f["episode_id"].GetStringValue(),
		Step:            int(f["step"].GetNumberValue()),
		Rows:            int(f["rows"].GetNumberValue()),
		Cols:            int(f["cols"].GetNumberValue()),
		Observation:     obs,
		Action:          int(f["action"].GetNumberValue()),
		Reward:          f["reward"].GetNumberValue(),
		NextObservation: next,
		Terminated:      f["terminated"].GetBoolValue(),
		Truncated:       f["truncated"].GetBoolValue(),
	}
	if pos := f["position"].GetStructValue(); pos != nil {
		t.Position = core.NewCoordinate(
			int(pos.GetFields()["row"].GetNumberValue()),
			int(pos.GetFields()["col"].GetNumberValue()),
		)
	}
	if ts := f["recorded_at"].GetStringValue(); ts != "" {
		at, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: recorded_at: %v", ErrMalformedTransition, err)
		}
		t.RecordedAt = at
	}

	if t.Rows*t.Cols != len(t.Observation) || len(t.Observation) != len(t.NextObservation) {
		return nil, fmt.Errorf("%w: observation size does not match %dx%d", ErrMalformedTransition, t.Rows, t.Cols)
	}
	return t, nil
}

func intsToList(values []int) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func listToInts(v *structpb.Value) ([]int, error) {
	list := v.GetListValue()
	if list == nil {
		return nil, errors.New("missing list")
	}
	out := make([]int, len(list.GetValues()))
	for i, item := range list.GetValues() {
		if _, ok := item.GetKind().(*structpb.Value_NumberValue); !ok {
			return nil, fmt.Errorf("element %d is not a number", i)
		}
		out[i] = int(item.GetNumberValue())
	}
	return out, nil
}
