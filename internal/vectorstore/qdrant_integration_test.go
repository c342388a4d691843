//go:build integration

package vectorstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startQdrant(t *testing.T) (string, int) {
	t.Helper()
	// ryuk can fail in rootless environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "qdrant/qdrant:v1.12.4",
			ExposedPorts: []string{"6333/tcp", "6334/tcp"},
			WaitingFor:   wait.ForHTTP("/readyz").WithPort("6333/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6334")
	require.NoError(t, err)
	return host, port.Int()
}

func TestQdrantIntegration(t *testing.T) {
	ctx := context.Background()
	host, port := startQdrant(t)
	store, err := NewQdrant(QdrantConfig{
		Host:       host,
		Port:       port,
		Collection: "it-chunks",
		Dimension:  3,
	}, nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.EnsureCollection(ctx))
	require.NoError(t, store.EnsureCollection(ctx), "existing collection is accepted")

	cs102 := chunk("job1", "section", 2, []float32{0, 0, 1})
	cs102.CourseID = "cs102"
	require.NoError(t, store.Upsert(ctx, []models.CanonicalChunk{
		chunk("job1", "section", 0, []float32{1, 0, 0}),
		chunk("job1", "section", 1, []float32{0, 1, 0}),
		cs102,
		chunk("job2", "section", 0, []float32{0.9, 0.1, 0}),
	}))

	t.Run("search ranks by cosine", func(t *testing.T) {
		results, err := store.Search(ctx, []float32{1, 0, 0}, Filter{}, 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "job1-section-0", results[0].ChunkID)
		assert.Equal(t, "job2-section-0", results[1].ChunkID)
	})

	t.Run("filters by course", func(t *testing.T) {
		results, err := store.Search(ctx, []float32{1, 0, 0}, Filter{CourseID: "cs102"}, 5)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "job1-section-2", results[0].ChunkID)
	})

	t.Run("lists and deletes by job", func(t *testing.T) {
		listed, err := store.ListByJobID(ctx, "job1")
		require.NoError(t, err)
		assert.Len(t, listed, 3)

		n, err := store.DeleteByJobID(ctx, "job1")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		after, err := store.Search(ctx, []float32{1, 0, 0}, Filter{JobIDs: []string{"job1"}}, 5)
		require.NoError(t, err)
		assert.Empty(t, after)

		other, err := store.ListByJobID(ctx, "job2")
		require.NoError(t, err)
		assert.Len(t, other, 1)
	})
}
