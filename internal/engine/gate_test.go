package engine

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/require"

	"github.com/duplexhq/duplex/pkg/api"
)

func TestCheckRequirements(t *testing.T) {
	boundary := semver.MustParse("1.9.0")
	collID := int64(7)
	resolved := references{collectionID: &collID}

	ev := func(version string) *api.CanonicalEvent {
		return &api.CanonicalEvent{
			Arn:           "arn:gate",
			WorkflowName:  "wf",
			Status:        api.StatusCompleted,
			SchemaVersion: version,
			StartTime:     time.Now(),
		}
	}

	t.Run("at boundary passes", func(t *testing.T) {
		refs, err := checkRequirements(ev("1.9.0"), resolved, nil, boundary)
		require.NoError(t, err)
		require.Equal(t, resolved, refs)
	})

	t.Run("above boundary passes", func(t *testing.T) {
		_, err := checkRequirements(ev("2.0.0"), resolved, nil, boundary)
		require.NoError(t, err)
	})

	t.Run("below boundary rejected", func(t *testing.T) {
		_, err := checkRequirements(ev("1.8.9"), resolved, nil, boundary)
		require.ErrorIs(t, err, api.ErrUnmetRequirements)
		require.ErrorContains(t, err, "pre-migration")
	})

	t.Run("unparseable version rejected", func(t *testing.T) {
		_, err := checkRequirements(ev("v?"), resolved, nil, boundary)
		require.ErrorIs(t, err, api.ErrUnmetRequirements)
	})

	t.Run("missing reference rejected", func(t *testing.T) {
		resolveErr := fmt.Errorf("collection MODIS/006: %w", api.ErrReferenceNotFound)
		_, err := checkRequirements(ev("2.0.0"), references{}, resolveErr, boundary)
		require.ErrorIs(t, err, api.ErrUnmetRequirements)
		require.ErrorContains(t, err, "MODIS")
	})

	t.Run("infrastructure error propagates verbatim", func(t *testing.T) {
		cause := errors.New("connection refused")
		_, err := checkRequirements(ev("2.0.0"), references{}, cause, boundary)
		require.ErrorIs(t, err, cause)
		require.NotErrorIs(t, err, api.ErrUnmetRequirements)
	})
}

func TestParseBoundary(t *testing.T) {
	v, err := parseBoundary("1.9.0")
	require.NoError(t, err)
	require.Equal(t, "1.9.0", v.String())

	_, err = parseBoundary("")
	require.ErrorIs(t, err, api.ErrConfigurationMissing)

	_, err = parseBoundary("not-semver")
	require.ErrorIs(t, err, api.ErrConfigurationMissing)
}

func TestBuildExecutionRecord(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(-time.Minute)
	collID := int64(3)

	ev := &api.CanonicalEvent{
		Arn:           "arn:build",
		WorkflowName:  "wf",
		Status:        api.StatusFailed,
		SchemaVersion: "2.0.0",
		StartTime:     start,
		StopTime:      start.Add(42 * time.Second),
		Payload:       map[string]any{"out": 1},
	}

	rec := buildExecutionRecord(ev, references{collectionID: &collID}, "eu-west-1", now)

	require.Equal(t, api.StatusFailed, rec.Status)
	require.Equal(t, api.ExecutionURL("eu-west-1", ev.Arn), rec.URL)
	require.EqualValues(t, 42, rec.DurationSeconds)
	require.Equal(t, ev.Payload, rec.FinalPayload)
	require.Nil(t, rec.OriginalPayload)
	require.NotNil(t, rec.Error, "error column must never be null")
	require.Empty(t, rec.Error)
	require.True(t, rec.CreatedAt.Equal(start))
	require.True(t, rec.UpdatedAt.Equal(now))
	require.Equal(t, &collID, rec.CollectionID)
}

func TestBuildRuleRecordDefaultsState(t *testing.T) {
	now := time.Now()
	rec := buildRuleRecord(api.Rule{Name: "r", Workflow: "wf"}, now)
	require.Equal(t, "ENABLED", rec.State)
	require.True(t, rec.CreatedAt.Equal(now))
}
