package env

import (
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/core"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/events"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/states"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/testutil"
)

func newTestEnv(t *testing.T, opts ...Option) *Environment {
	t.Helper()
	opts = append([]Option{WithLogger(testutil.NopLogger())}, opts...)
	e, err := New(opts...)
	require.NoError(t, err)
	return e
}

func settingsWithRows(t *testing.T, rows ...string) Settings {
	t.Helper()
	s := DefaultSettings()
	s.Layout = testutil.MustLayout(t, rows...)
	return s
}

func stepAll(t *testing.T, e *Environment, actions ...core.Action) []StepResult {
	t.Helper()
	results := make([]StepResult, 0, len(actions))
	for i, a := range actions {
		res, err := e.Step(a)
		require.NoError(t, err, "step %d (%s)", i, a)
		results = append(results, res)
	}
	return results
}

func countMarkers(obs Observation) int {
	n := 0
	for _, row := range obs {
		for _, v := range row {
			if v == core.AgentMarker {
				n++
			}
		}
	}
	return n
}

func TestReset_ObservationMarksOnlyAgent(t *testing.T) {
	e := newTestEnv(t)
	obs := e.Reset()
	codes := e.Layout().Codes()

	require.Equal(t, 5, obs.Rows())
	require.Equal(t, 5, obs.Cols())
	assert.Equal(t, 1, countMarkers(obs))

	for r := 0; r < 5; r++ {
		for c := 0; c < 5; c++ {
			if r == 0 && c == 0 {
				assert.Equal(t, core.AgentMarker, obs[r][c])
				continue
			}
			assert.Equal(t, codes[r][c], obs[r][c], "cell (%d,%d)", r, c)
		}
	}

	assert.Equal(t, core.NewCoordinate(0, 0), e.Position())
	assert.Equal(t, Counters{}, e.Counters())
	assert.Equal(t, states.PhaseRunning, e.Phase())
}

func TestObserve_EveryCellMarkedExactlyOnce(t *testing.T) {
	// open grid so a snake walk can visit every cell without side effects
	s := settingsWithRows(t, testutil.OpenRows(5, 5)...)
	s.Limits.MaxSteps = 0
	e := newTestEnv(t, WithSettings(s))
	codes := e.Layout().Codes()

	visited := map[core.Coordinate]bool{}
	check := func(obs Observation) {
		pos := e.Position()
		visited[pos] = true
		assert.Equal(t, 1, countMarkers(obs), "at %s", pos)
		found, ok := obs.AgentPosition()
		require.True(t, ok)
		assert.Equal(t, pos, found)
		for r := range obs {
			for c := range obs[r] {
				if r == pos.Row && c == pos.Col {
					continue
				}
				assert.Equal(t, codes[r][c], obs[r][c])
			}
		}
	}

	check(e.Observe())
	for row := 0; row < 5; row++ {
		dir := core.ActionRight
		if row%2 == 1 {
			dir = core.ActionLeft
		}
		for i := 0; i < 4; i++ {
			res, err := e.Step(dir)
			require.NoError(t, err)
			check(res.Observation)
		}
		if row < 4 {
			res, err := e.Step(core.ActionDown)
			require.NoError(t, err)
			check(res.Observation)
		}
	}

	assert.Len(t, visited, 25)
}

func TestObserve_IsPureAndReturnsCopies(t *testing.T) {
	e := newTestEnv(t)

	first := e.Observe()
	first[2][2] = 77
	second := e.Observe()

	assert.Equal(t, core.CellHazard.Code(), second[2][2])
	assert.Equal(t, Counters{}, e.Counters())
	assert.Equal(t, core.NewCoordinate(0, 0), e.Position())
}

func TestStep_UpFromOriginIsInvalid(t *testing.T) {
	e := newTestEnv(t)

	res, err := e.Step(core.ActionUp)
	require.NoError(t, err)

	assert.Equal(t, -1.0, res.Reward)
	assert.False(t, res.Terminated)
	assert.False(t, res.Truncated)
	assert.True(t, res.Info.Invalid)
	assert.Equal(t, core.NewCoordinate(0, 0), e.Position())
	assert.Equal(t, Counters{InvalidActionCount: 1, StepCount: 1}, e.Counters())

	pos, ok := res.Observation.AgentPosition()
	require.True(t, ok)
	assert.Equal(t, core.NewCoordinate(0, 0), pos)
}

func TestStep_ThreeInvalidActionsTruncate(t *testing.T) {
	e := newTestEnv(t)

	results := stepAll(t, e, core.ActionUp, core.ActionLeft, core.ActionUp)

	assert.False(t, results[0].Truncated)
	assert.False(t, results[1].Truncated)
	assert.True(t, results[2].Truncated)
	assert.False(t, results[2].Terminated)
	assert.Equal(t, EndInvalidLimit, results[2].Info.EndReason)
	assert.Equal(t, states.PhaseTruncated, e.Phase())
	assert.True(t, e.Done())

	_, err := e.Step(core.ActionRight)
	assert.ErrorIs(t, err, core.ErrEpisodeOver)
	assert.Equal(t, 3, e.Counters().StepCount)
}

func TestStep_InvalidActionsNeedNotBeConsecutive(t *testing.T) {
	e := newTestEnv(t)

	results := stepAll(t, e,
		core.ActionUp,    // invalid
		core.ActionRight, // (0,1)
		core.ActionUp,    // invalid
		core.ActionLeft,  // (0,0)
		core.ActionLeft,  // invalid -> truncated
	)

	last := results[len(results)-1]
	assert.True(t, last.Truncated)
	assert.Equal(t, 3, last.Info.Counters.InvalidActionCount)
	assert.Equal(t, 5, last.Info.Counters.StepCount)
}

func TestStep_ThirdHazardTerminates(t *testing.T) {
	tests := []struct {
		name       string
		policy     core.RetryLimitPolicy
		lastReward float64
	}{
		{"Override", core.RetryLimitOverride, -10},
		{"Keep", core.RetryLimitKeep, -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			s.RetryLimitPolicy = tt.policy
			e := newTestEnv(t, WithSettings(s))

			results := stepAll(t, e,
				core.ActionDown,  // (1,0)
				core.ActionRight, // (1,1) hazard 1
				core.ActionRight, // (1,2)
				core.ActionRight, // (1,3) hazard 2
				core.ActionDown,  // (2,3)
				core.ActionLeft,  // (2,2) hazard 3
			)

			assert.Equal(t, -5.0, results[1].Reward)
			assert.False(t, results[1].Terminated)
			assert.Equal(t, -5.0, results[3].Reward)
			assert.False(t, results[3].Terminated)

			last := results[5]
			assert.True(t, last.Terminated)
			assert.False(t, last.Truncated)
			assert.Equal(t, tt.lastReward, last.Reward)
			assert.Equal(t, EndRetryLimit, last.Info.EndReason)
			assert.Equal(t, core.CellHazard, last.Info.Cell)
			assert.Equal(t, 3, e.Counters().RetryCount)
			assert.Equal(t, states.PhaseTerminated, e.Phase())
		})
	}
}

func TestStep_RevisitingOneHazardCounts(t *testing.T) {
	e := newTestEnv(t)

	results := stepAll(t, e,
		core.ActionDown,
		core.ActionRight, // hazard 1
		core.ActionLeft,
		core.ActionRight, // hazard 2
		core.ActionLeft,
		core.ActionRight, // hazard 3
	)

	assert.True(t, results[5].Terminated)
	assert.Equal(t, 3, results[5].Info.Counters.RetryCount)
}

func TestStep_ReachGoal(t *testing.T) {
	e := newTestEnv(t)

	results := stepAll(t, e,
		core.ActionRight, core.ActionRight, core.ActionRight, core.ActionRight,
		core.ActionDown, core.ActionDown, core.ActionDown, core.ActionDown,
	)

	assert.Equal(t, 3.0, results[3].Reward, "engaged bonus at (0,4)")
	for _, res := range results[:7] {
		assert.False(t, res.Terminated)
	}

	last := results[7]
	assert.Equal(t, 10.0, last.Reward)
	assert.True(t, last.Terminated)
	assert.False(t, last.Truncated)
	assert.Equal(t, EndGoal, last.Info.EndReason)
	assert.Equal(t, core.NewCoordinate(4, 4), e.Position())
	assert.Equal(t, 13.0, e.TotalReward())
}

func TestStep_CellRewards(t *testing.T) {
	e := newTestEnv(t)

	// (1,0) neutral, (2,0), (3,0), then issue at (3,1)
	results := stepAll(t, e, core.ActionDown, core.ActionDown, core.ActionDown, core.ActionRight)
	assert.Equal(t, 0.0, results[0].Reward)
	assert.Equal(t, 2.0, results[3].Reward)
	assert.Equal(t, core.CellIssue, results[3].Info.Cell)

	// stepping back onto the start cell scores the start reward
	e.Reset()
	results = stepAll(t, e, core.ActionRight, core.ActionLeft)
	assert.Equal(t, 0.0, results[1].Reward)
	assert.Equal(t, core.CellStart, results[1].Info.Cell)
}

func TestStep_StepLimitTruncates(t *testing.T) {
	e := newTestEnv(t)

	for i := 1; i <= 100; i++ {
		var a core.Action
		switch {
		case i == 10 || i == 50:
			a = core.ActionUp // invalid, still counted
		case i%2 == 1:
			a = core.ActionRight
		default:
			a = core.ActionLeft
		}

		res, err := e.Step(a)
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, i, res.Info.Counters.StepCount)
		assert.False(t, res.Terminated)

		if i < 100 {
			require.False(t, res.Truncated, "step %d", i)
		} else {
			assert.True(t, res.Truncated)
			assert.Equal(t, EndStepLimit, res.Info.EndReason)
		}
	}

	_, err := e.Step(core.ActionRight)
	assert.ErrorIs(t, err, core.ErrEpisodeOver)
}

func TestStep_InvalidActionValueRejected(t *testing.T) {
	e := newTestEnv(t)
	before := e.Observe()

	for _, bad := range []core.Action{-1, 4, 99} {
		_, err := e.Step(bad)
		assert.ErrorIs(t, err, core.ErrInvalidAction)
	}

	assert.Equal(t, Counters{}, e.Counters())
	assert.Equal(t, before, e.Observe())
}

func TestStep_InvalidMoveOnHazardScoresOnlyInvalid(t *testing.T) {
	e := newTestEnv(t, WithSettings(settingsWithRows(t, "SH", ".G")))

	results := stepAll(t, e, core.ActionRight, core.ActionRight)

	assert.Equal(t, -5.0, results[0].Reward)
	assert.Equal(t, -1.0, results[1].Reward)
	assert.True(t, results[1].Info.Invalid)
	assert.Equal(t, 1, e.Counters().RetryCount)
	assert.Equal(t, 1, e.Counters().InvalidActionCount)
}

func TestStep_TerminatedAndTruncatedSameStep(t *testing.T) {
	s := settingsWithRows(t, "SG")
	s.Limits.MaxSteps = 1
	e := newTestEnv(t, WithSettings(s))

	res, err := e.Step(core.ActionRight)
	require.NoError(t, err)

	assert.True(t, res.Terminated)
	assert.True(t, res.Truncated)
	assert.Equal(t, EndGoal, res.Info.EndReason)
	assert.Equal(t, states.PhaseTerminated, e.Phase())
}

func TestReset_AfterTerminalStartsNewEpisode(t *testing.T) {
	ids := []string{"env-id", "ep-1", "ep-2"}
	next := 0
	gen := func() string {
		id := ids[next]
		next++
		return id
	}
	e := newTestEnv(t, WithIDGenerator(gen))
	assert.Equal(t, "env-id", e.ID())
	assert.Equal(t, "ep-1", e.EpisodeID())

	stepAll(t, e, core.ActionUp, core.ActionUp, core.ActionUp)
	require.True(t, e.Done())

	obs := e.Reset()
	assert.Equal(t, "ep-2", e.EpisodeID())
	assert.Equal(t, states.PhaseRunning, e.Phase())
	assert.Equal(t, Counters{}, e.Counters())
	assert.Equal(t, 0.0, e.TotalReward())
	assert.Equal(t, 1, countMarkers(obs))

	_, err := e.Step(core.ActionRight)
	assert.NoError(t, err)

	history := e.History()
	require.Len(t, history, 3)
	assert.Equal(t, "ep-1", history[1].EpisodeID)
	assert.Equal(t, states.PhaseTruncated, history[1].To)
	assert.Equal(t, "invalid_limit", history[1].Reason)
	assert.Equal(t, states.PhaseRunning, history[2].To)
	assert.Equal(t, "ep-2", history[2].EpisodeID)
}

func TestCountersNeverDecrease(t *testing.T) {
	e := newTestEnv(t, WithSettings(func() Settings {
		s := DefaultSettings()
		s.Limits.MaxInvalidActions = 50
		s.Limits.MaxRetries = 50
		return s
	}()))

	actions := []core.Action{
		core.ActionUp, core.ActionDown, core.ActionRight, core.ActionRight,
		core.ActionLeft, core.ActionRight, core.ActionUp, core.ActionUp, core.ActionLeft,
	}
	prev := e.Counters()
	for _, a := range actions {
		res, err := e.Step(a)
		require.NoError(t, err)
		c := res.Info.Counters
		assert.GreaterOrEqual(t, c.RetryCount, prev.RetryCount)
		assert.GreaterOrEqual(t, c.InvalidActionCount, prev.InvalidActionCount)
		assert.Equal(t, prev.StepCount+1, c.StepCount)
		prev = c
	}
}

func TestRandomWalk_Invariants(t *testing.T) {
	rng := testutil.NewTestRNG(42)
	e := newTestEnv(t)
	limits := e.Limits()

	for episode := 0; episode < 50; episode++ {
		obs := e.Reset()
		assert.Equal(t, 1, countMarkers(obs))
		prev := e.Counters()

		for !e.Done() {
			res, err := e.Step(core.Action(rng.Intn(core.NumActions)))
			require.NoError(t, err)

			c := res.Info.Counters
			assert.Equal(t, 1, countMarkers(res.Observation))
			assert.True(t, e.ObservationSpace().Contains(res.Observation))
			assert.Equal(t, prev.StepCount+1, c.StepCount)
			assert.GreaterOrEqual(t, c.RetryCount, prev.RetryCount)
			assert.GreaterOrEqual(t, c.InvalidActionCount, prev.InvalidActionCount)
			assert.LessOrEqual(t, c.RetryCount, limits.MaxRetries)
			assert.LessOrEqual(t, c.InvalidActionCount, limits.MaxInvalidActions)
			assert.LessOrEqual(t, c.StepCount, limits.MaxSteps)
			assert.Equal(t, res.Terminated || res.Truncated, e.Done())
			prev = c
		}

		_, err := e.Step(core.ActionDown)
		assert.ErrorIs(t, err, core.ErrEpisodeOver)
	}
}

func TestEnvironment_PublishesEvents(t *testing.T) {
	bus := events.NewEventBusWithLogger(zerolog.Nop())
	var types []string
	for _, et := range []string{
		events.TypeEpisodeStarted, events.TypeStepTaken, events.TypeHazardEntered,
		events.TypeMoveInvalid, events.TypeEpisodeEnded, events.TypePhaseTransition,
	} {
		bus.SubscribeFunc(et, func(e events.Event) { types = append(types, e.Type()) })
	}

	e := newTestEnv(t, WithPublisher(bus), WithID("env-7"))
	types = nil

	stepAll(t, e, core.ActionUp, core.ActionDown, core.ActionRight)
	assert.Equal(t, []string{
		events.TypeMoveInvalid, events.TypeStepTaken,
		events.TypeStepTaken,
		events.TypeHazardEntered, events.TypeStepTaken,
	}, types)

	types = nil
	stepAll(t, e, core.ActionUp, core.ActionUp, core.ActionUp)
	assert.Equal(t, []string{
		events.TypeStepTaken,
		events.TypeMoveInvalid, events.TypeStepTaken,
		events.TypeMoveInvalid, events.TypeStepTaken,
		events.TypePhaseTransition, events.TypeEpisodeEnded,
	}, types)
}

func TestNew_RejectsBadSettings(t *testing.T) {
	s := DefaultSettings()
	s.Layout = nil
	_, err := New(WithSettings(s), WithLogger(zerolog.Nop()))
	assert.ErrorIs(t, err, core.ErrInvalidLayout)

	s = DefaultSettings()
	s.Limits.MaxRetries = 0
	_, err = New(WithSettings(s), WithLogger(zerolog.Nop()))
	assert.Error(t, err)

	s = DefaultSettings()
	s.RetryLimitPolicy = ""
	_, err = New(WithSettings(s), WithLogger(zerolog.Nop()))
	assert.Error(t, err)
}

func TestSpaces(t *testing.T) {
	e := newTestEnv(t)

	as := e.ActionSpace()
	assert.Equal(t, 4, as.N)
	assert.True(t, as.Contains(3))
	assert.False(t, as.Contains(4))

	os := e.ObservationSpace()
	assert.Equal(t, 5, os.Rows)
	assert.Equal(t, 5, os.Cols)
	assert.Equal(t, -1, os.Low)
	assert.Equal(t, core.MaxCellCode, os.High)
	assert.True(t, os.Contains(e.Observe()))
	assert.False(t, os.Contains(Observation{{0}}))
}

func TestRender(t *testing.T) {
	e := newTestEnv(t)
	stepAll(t, e, core.ActionRight)

	out := e.Render()
	lines := strings.Split(out, "\n")
	require.GreaterOrEqual(t, len(lines), 7)

	assert.Equal(t, "    0 1 2 3 4", lines[0])
	assert.Equal(t, " 0  S A . . E", lines[1])
	assert.Equal(t, " 4  . . . . G", lines[5])
	assert.Contains(t, lines[6], "step=1")
	assert.Contains(t, lines[6], "phase=Running")
	assert.Contains(t, Legend(), "H=hazard")
}

func TestObservationHelpers(t *testing.T) {
	obs := Observation{{0, -1}, {2, 1}}
	assert.Equal(t, []int{0, -1, 2, 1}, obs.Flatten())

	back, ok := ObservationFromFlat(obs.Flatten(), 2, 2)
	require.True(t, ok)
	assert.Equal(t, obs, back)

	_, ok = ObservationFromFlat([]int{1, 2, 3}, 2, 2)
	assert.False(t, ok)

	clone := obs.Clone()
	clone[0][0] = 9
	assert.Equal(t, 0, obs[0][0])

	_, ok = Observation{{0, 1}}.AgentPosition()
	assert.False(t, ok)
}

func ExampleEnvironment_Step() {
	e, _ := New(WithLogger(zerolog.Nop()))
	for _, a := range []core.Action{core.ActionRight, core.ActionRight, core.ActionRight, core.ActionRight} {
		res, _ := e.Step(a)
		fmt.Println(res.Info.Position, res.Reward)
	}
	// Output:
	// (0,1) 0
	// (0,2) 0
	// (0,3) 0
	// (0,4) 3
}
