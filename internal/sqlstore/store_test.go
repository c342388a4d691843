package sqlstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestJobStatusLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.GetJobStatus(ctx, "missing")
	require.ErrorIs(t, err, models.ErrNotFound)

	started := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.SaveJobStatus(ctx, &models.JobStatus{
		JobID:       "job1",
		Status:      models.StatusQueued,
		CurrentStep: "Waiting in queue",
		Steps:       []string{"Analyze Image", "Store Results"},
		StartedAt:   started,
		Metadata:    map[string]any{"fileName": "cat.png"},
	}))

	got, err := s.GetJobStatus(ctx, "job1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, got.Status)
	assert.Equal(t, []string{"Analyze Image", "Store Results"}, got.Steps)
	assert.True(t, started.Equal(got.StartedAt), "started %v, got %v", started, got.StartedAt)
	assert.Nil(t, got.CompletedAt)

	done := started.Add(time.Minute)
	require.NoError(t, s.SaveJobStatus(ctx, &models.JobStatus{
		JobID:       "job1",
		Status:      models.StatusCompleted,
		Progress:    100,
		Steps:       got.Steps,
		StartedAt:   started,
		CompletedAt: &done,
	}))

	got, err = s.GetJobStatus(ctx, "job1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, done.Equal(*got.CompletedAt))
	assert.Equal(t, "cat.png", got.Metadata["fileName"], "metadata kept when update omits it")
}

func TestSaveJobAndGetJob(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.GetJob(ctx, "job1")
	require.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, s.SaveJobStatus(ctx, &models.JobStatus{JobID: "job1", Status: models.StatusQueued, StartedAt: time.Now()}))
	_, err = s.GetJob(ctx, "job1")
	require.ErrorIs(t, err, models.ErrNotFound, "status without job body")

	job := &models.IngestionJob{
		JobID:    "job1",
		FileType: models.FileTypeVideo,
		Source:   models.JobSource{FilePath: "/tmp/processing/job1.mp4"},
		Metadata: models.JobMetadata{FileName: "lecture.mp4", Tags: []string{"week1"}},
	}
	require.NoError(t, s.SaveJob(ctx, job))

	got, err := s.GetJob(ctx, "job1")
	require.NoError(t, err)
	assert.Equal(t, job.Source, got.Source)
	assert.Equal(t, []string{"week1"}, got.Metadata.Tags)

	status, err := s.GetJobStatus(ctx, "job1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, status.Status, "SaveJob leaves status alone")
}

func TestListAndDeleteJobs(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Now().UTC()
	for i := range 3 {
		require.NoError(t, s.SaveJobStatus(ctx, &models.JobStatus{
			JobID:     fmt.Sprintf("job%d", i),
			Status:    models.StatusQueued,
			StartedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.AppendJobLog(ctx, "job1", models.JobLog{Timestamp: base, Level: models.LogInfo, Message: "x"}))
	require.NoError(t, s.SaveSummary(ctx, &models.Summary{JobID: "job1", Title: "t", GeneratedAt: base}))

	list, err := s.ListJobStatuses(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "job2", list[0].JobID)
	assert.Equal(t, "job1", list[1].JobID)

	require.NoError(t, s.DeleteJob(ctx, "job1"))
	_, err = s.GetJobStatus(ctx, "job1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = s.GetSummary(ctx, "job1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, total, err := s.GetJobLogs(ctx, "job1", 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestJobLogsPaging(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i := range 5 {
		require.NoError(t, s.AppendJobLog(ctx, "job1", models.JobLog{
			Timestamp: time.Now(),
			Level:     models.LogInfo,
			Message:   fmt.Sprintf("entry %d", i),
			Step:      "Transcribe",
			Data:      map[string]any{"n": i},
		}))
	}

	logs, total, err := s.GetJobLogs(ctx, "job1", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, logs, 2)
	assert.Equal(t, "entry 3", logs[0].Message)
	assert.Equal(t, "Transcribe", logs[0].Step)
	assert.Equal(t, float64(3), logs[0].Data["n"])
}

func TestSummaryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.GetSummary(ctx, "job1")
	require.ErrorIs(t, err, models.ErrNotFound)

	summary := &models.Summary{
		JobID:     "job1",
		Status:    models.StatusCompleted,
		Title:     "Graphs",
		KeyPoints: []string{"BFS"},
		Timeline:  []models.TimelineEntry{{Timestamp: "00:10", Title: "Intro"}},
	}
	require.NoError(t, s.SaveSummary(ctx, summary))
	summary.Title = "Graphs v2"
	require.NoError(t, s.SaveSummary(ctx, summary))

	got, err := s.GetSummary(ctx, "job1")
	require.NoError(t, err)
	assert.Equal(t, "Graphs v2", got.Title)
	assert.Equal(t, "00:10", got.Timeline[0].Timestamp)
}

func TestQueueOrdering(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Publish(ctx, "video-jobs", &models.IngestionJob{JobID: "a"}))
	require.NoError(t, s.Publish(ctx, "video-jobs", &models.IngestionJob{JobID: "b"}))
	require.NoError(t, s.Publish(ctx, "video-jobs", &models.IngestionJob{JobID: "hi", Priority: 2}))
	require.NoError(t, s.Publish(ctx, "audio-jobs", &models.IngestionJob{JobID: "other"}))

	depth, err := s.QueueDepth(ctx, "video-jobs")
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	var got []string
	for {
		job, err := s.Receive(ctx, "video-jobs")
		require.NoError(t, err)
		if job == nil {
			break
		}
		got = append(got, job.JobID)
	}
	assert.Equal(t, []string{"hi", "a", "b"}, got)

	other, err := s.Receive(ctx, "audio-jobs")
	require.NoError(t, err)
	require.NotNil(t, other)
	assert.Equal(t, "other", other.JobID)
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mmrag.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
