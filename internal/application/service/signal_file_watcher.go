package service

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/hshk99/autopack/internal/application/port/output"
)

// SignalFilePayload is the optional JSON body of the kill switch file.
// An empty or malformed file still engages the switch; the payload only
// enriches the recorded reason.
type SignalFilePayload struct {
	Reason       string `json:"reason,omitempty"`
	EngagedBy    string `json:"engaged_by,omitempty"`
	EngagedAt    string `json:"engaged_at,omitempty"`
	PreviousMode string `json:"previous_mode,omitempty"`
}

// SignalFileWatcher polls for the kill switch file and drives the mode
// manager. Presence of the file forces KILLED; removal releases to
// SHADOW only.
type SignalFileWatcher struct {
	fs       afero.Fs
	path     string
	interval time.Duration
	modes    *ModeManager
	logger   output.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSignalFileWatcher creates a watcher over the given filesystem
func NewSignalFileWatcher(fs afero.Fs, path string, interval time.Duration, modes *ModeManager, logger output.Logger) *SignalFileWatcher {
	if logger == nil {
		logger = output.NopLogger{}
	}
	return &SignalFileWatcher{
		fs:       fs,
		path:     path,
		interval: interval,
		modes:    modes,
		logger:   logger,
	}
}

// CheckOnce performs a single observation of the signal file and applies
// the resulting mode change, if any.
func (w *SignalFileWatcher) CheckOnce() {
	exists, err := afero.Exists(w.fs, w.path)
	if err != nil {
		// Treat an unreadable switch as engaged; failing open here would
		// let a permission error silently disable the kill switch.
		w.logger.Error("cannot stat signal file %s: %v", w.path, err)
		w.modes.Kill("signal file unreadable: " + err.Error())
		return
	}

	if exists {
		if w.modes.Mode() != ModeKilled {
			w.modes.Kill(w.readReason())
		}
		return
	}
	w.modes.Release("signal file removed")
}

// readReason extracts a human reason from the signal file body
func (w *SignalFileWatcher) readReason() string {
	data, err := afero.ReadFile(w.fs, w.path)
	if err != nil || len(data) == 0 {
		return "signal file present"
	}
	var payload SignalFilePayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.Reason == "" {
		return "signal file present"
	}
	if payload.EngagedBy != "" {
		return payload.Reason + " (by " + payload.EngagedBy + ")"
	}
	return payload.Reason
}

// Start begins periodic polling in a background goroutine
func (w *SignalFileWatcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.CheckOnce()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.CheckOnce()
			}
		}
	}()
}

// Stop halts polling and waits for the watcher goroutine to exit
func (w *SignalFileWatcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

// Engage writes the signal file, engaging the kill switch from this
// process and any other process watching the same path.
func (w *SignalFileWatcher) Engage(reason, engagedBy string) error {
	payload := SignalFilePayload{
		Reason:    reason,
		EngagedBy: engagedBy,
		EngagedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if w.modes != nil {
		payload.PreviousMode = string(w.modes.Mode())
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	return afero.WriteFile(w.fs, w.path, data, 0o644)
}

// Disengage removes the signal file
func (w *SignalFileWatcher) Disengage() error {
	err := w.fs.Remove(w.path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
