package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const signalPath = "/var/run/autopack/killswitch.json"

func newTestWatcher(t *testing.T) (*SignalFileWatcher, *ModeManager, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	modes := NewModeManager(nil)
	w := NewSignalFileWatcher(fs, signalPath, 50*time.Millisecond, modes, nil)
	return w, modes, fs
}

func TestSignalFileWatcher_FilePresenceKills(t *testing.T) {
	w, modes, fs := newTestWatcher(t)
	modes.Enable("go live")

	require.NoError(t, afero.WriteFile(fs, signalPath, []byte(`{"reason":"runaway spend","engaged_by":"oncall"}`), 0o644))
	w.CheckOnce()

	assert.Equal(t, ModeKilled, modes.Mode())
	history := modes.History()
	assert.Equal(t, "runaway spend (by oncall)", history[len(history)-1].Reason)
}

func TestSignalFileWatcher_EmptyFileStillKills(t *testing.T) {
	w, modes, fs := newTestWatcher(t)

	require.NoError(t, afero.WriteFile(fs, signalPath, nil, 0o644))
	w.CheckOnce()

	assert.Equal(t, ModeKilled, modes.Mode())
}

func TestSignalFileWatcher_MalformedPayloadStillKills(t *testing.T) {
	w, modes, fs := newTestWatcher(t)

	require.NoError(t, afero.WriteFile(fs, signalPath, []byte("not json at all"), 0o644))
	w.CheckOnce()

	assert.Equal(t, ModeKilled, modes.Mode())
	history := modes.History()
	assert.Equal(t, "signal file present", history[len(history)-1].Reason)
}

func TestSignalFileWatcher_RemovalReleasesToShadowOnly(t *testing.T) {
	w, modes, fs := newTestWatcher(t)
	modes.Enable("go live")

	require.NoError(t, afero.WriteFile(fs, signalPath, []byte(`{}`), 0o644))
	w.CheckOnce()
	require.Equal(t, ModeKilled, modes.Mode())

	require.NoError(t, fs.Remove(signalPath))
	w.CheckOnce()

	// SHADOW, never ACTIVE, until someone explicitly enables again
	assert.Equal(t, ModeShadow, modes.Mode())
	assert.True(t, modes.Enable("operator re-enables"))
	assert.Equal(t, ModeActive, modes.Mode())
}

func TestSignalFileWatcher_AbsentFileIsNoOpWhileActive(t *testing.T) {
	w, modes, _ := newTestWatcher(t)
	modes.Enable("go live")

	w.CheckOnce()
	assert.Equal(t, ModeActive, modes.Mode())
}

func TestSignalFileWatcher_EngageDisengage(t *testing.T) {
	w, modes, fs := newTestWatcher(t)

	require.NoError(t, w.Engage("manual stop", "ci-bot"))
	exists, err := afero.Exists(fs, signalPath)
	require.NoError(t, err)
	assert.True(t, exists)

	w.CheckOnce()
	assert.Equal(t, ModeKilled, modes.Mode())

	require.NoError(t, w.Disengage())
	exists, err = afero.Exists(fs, signalPath)
	require.NoError(t, err)
	assert.False(t, exists)

	// Disengaging twice is tolerated
	require.NoError(t, w.Disengage())
}

func TestSignalFileWatcher_EngageRecordsTimestampAndPreviousMode(t *testing.T) {
	w, modes, fs := newTestWatcher(t)
	modes.Enable("go live")

	require.NoError(t, w.Engage("runaway spend", "oncall"))

	data, err := afero.ReadFile(fs, signalPath)
	require.NoError(t, err)
	var payload SignalFilePayload
	require.NoError(t, json.Unmarshal(data, &payload))

	assert.Equal(t, "runaway spend", payload.Reason)
	assert.Equal(t, "oncall", payload.EngagedBy)
	assert.Equal(t, string(ModeActive), payload.PreviousMode)
	engagedAt, err := time.Parse(time.RFC3339, payload.EngagedAt)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), engagedAt, time.Minute)
}

func TestSignalFileWatcher_StartStop(t *testing.T) {
	w, modes, fs := newTestWatcher(t)

	w.Start(context.Background())
	defer w.Stop()

	require.NoError(t, afero.WriteFile(fs, signalPath, []byte(`{"reason":"drill"}`), 0o644))

	assert.Eventually(t, func() bool {
		return modes.Mode() == ModeKilled
	}, time.Second, 10*time.Millisecond)
}
