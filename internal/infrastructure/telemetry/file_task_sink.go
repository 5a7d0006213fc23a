package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hshk99/autopack/internal/application/feedback"
	"github.com/hshk99/autopack/internal/application/port/output"
)

// FileTaskSink persists improvement tasks and regression alerts as
// timestamped JSON artifacts.
type FileTaskSink struct {
	storage output.StorageGateway
}

// NewFileTaskSink creates a FileTaskSink
func NewFileTaskSink(storage output.StorageGateway) *FileTaskSink {
	return &FileTaskSink{storage: storage}
}

// SaveTasks writes one artifact per generation cycle
func (s *FileTaskSink) SaveTasks(ctx context.Context, tasks []feedback.ImprovementTask) error {
	return s.write(ctx, "feedback/tasks", tasks)
}

// SaveAlerts writes regression alerts
func (s *FileTaskSink) SaveAlerts(ctx context.Context, alerts []feedback.RegressionAlert) error {
	return s.write(ctx, "feedback/alerts", alerts)
}

func (s *FileTaskSink) write(ctx context.Context, prefix string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%s_%s.json", prefix, time.Now().UTC().Format("20060102T150405"))
	if _, err := s.storage.SaveArtifact(ctx, name, data); err != nil {
		return fmt.Errorf("persist %s: %w", prefix, err)
	}
	return nil
}
