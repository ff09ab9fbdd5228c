package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentmem/memoryd/internal/apperr"
	"github.com/agentmem/memoryd/internal/config"
	"github.com/agentmem/memoryd/internal/model"
	registrystore "github.com/agentmem/memoryd/internal/registry/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "memory.db")
	cfg := config.DefaultConfig()
	cfg.DBPath = dbPath
	cfg.EmbeddingDimensions = 4

	ctx := config.WithContext(context.Background(), &cfg)
	s, err := load(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	store := s.(*Store)
	_, err = store.db.DB()
	require.NoError(t, err)
	require.NoError(t, store.db.Exec(schemaSQL).Error)
	return store
}

func TestInsertGetUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	importance := 0.7
	item, err := s.Insert(ctx, registrystore.CreateMemoryRequest{
		Content:    "remember to rotate the API key",
		Type:       model.MemoryTypeSemantic,
		Tags:       []string{"ops", "security"},
		Importance: &importance,
	})
	require.NoError(t, err)
	require.Regexp(t, `^mem_\d+_[a-f0-9]{8}$`, item.ID)

	got, err := s.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, "remember to rotate the API key", got.Content)
	require.Equal(t, "ops,security", got.Tags)

	newContent := "rotate the API key every 90 days"
	updated, err := s.Update(ctx, item.ID, registrystore.UpdatePatch{Content: &newContent})
	require.NoError(t, err)
	require.Equal(t, newContent, updated.Content)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "mem_does_not_exist")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.NotFound, appErr.Kind)
}

func TestPinBlocksHardDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item, err := s.Insert(ctx, registrystore.CreateMemoryRequest{Content: "pinned fact", Type: model.MemoryTypeSemantic})
	require.NoError(t, err)

	_, err = s.Pin(ctx, item.ID)
	require.NoError(t, err)

	err = s.HardDelete(ctx, item.ID, true)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.Conflict, appErr.Kind)

	_, err = s.Unpin(ctx, item.ID)
	require.NoError(t, err)
	require.NoError(t, s.HardDelete(ctx, item.ID, true))

	_, err = s.Get(ctx, item.ID)
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.NotFound, appErr.Kind)
}

func TestSoftDeleteExcludesFromCandidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item, err := s.Insert(ctx, registrystore.CreateMemoryRequest{Content: "ephemeral note", Type: model.MemoryTypeWorking})
	require.NoError(t, err)
	require.NoError(t, s.SoftDelete(ctx, item.ID))

	candidates, err := s.Candidates(ctx, registrystore.Filters{})
	require.NoError(t, err)
	for _, c := range candidates {
		require.NotEqual(t, item.ID, c.Item.ID)
	}
}

func TestSearchTextFindsInsertedContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item, err := s.Insert(ctx, registrystore.CreateMemoryRequest{
		Content: "the deployment pipeline uses blue-green releases",
		Type:    model.MemoryTypeProcedural,
	})
	require.NoError(t, err)

	hits, err := s.SearchText(ctx, `"deployment"* OR "pipeline"*`, registrystore.Filters{}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	found := false
	for _, h := range hits {
		if h.ID == item.ID {
			found = true
		}
	}
	require.True(t, found)
}

func TestSetEmbeddingAndSearchVector(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item, err := s.Insert(ctx, registrystore.CreateMemoryRequest{Content: "vector test item", Type: model.MemoryTypeSemantic})
	require.NoError(t, err)

	vec := []float32{1, 0, 0, 0}
	require.NoError(t, s.SetEmbedding(ctx, item.ID, vec, "test-model"))

	emb, ok, err := s.GetEmbedding(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "test-model", emb.Model)

	hits, available, err := s.SearchVector(ctx, vec, registrystore.Filters{}, 5)
	require.NoError(t, err)
	require.True(t, available)
	require.NotEmpty(t, hits)
}

func TestLinkAndUnlink(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Insert(ctx, registrystore.CreateMemoryRequest{Content: "cause", Type: model.MemoryTypeSemantic})
	require.NoError(t, err)
	b, err := s.Insert(ctx, registrystore.CreateMemoryRequest{Content: "effect", Type: model.MemoryTypeSemantic})
	require.NoError(t, err)

	require.NoError(t, s.Link(ctx, a.ID, b.ID, model.RelationCauseOf))
	// Idempotent: linking the same pair again is a no-op, not a conflict.
	require.NoError(t, s.Link(ctx, a.ID, b.ID, model.RelationCauseOf))
	require.NoError(t, s.Unlink(ctx, a.ID, b.ID, model.RelationCauseOf))
}

func TestRecordFeedbackIncrementsCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item, err := s.Insert(ctx, registrystore.CreateMemoryRequest{Content: "feedback target", Type: model.MemoryTypeSemantic})
	require.NoError(t, err)

	require.NoError(t, s.RecordFeedback(ctx, item.ID, model.FeedbackUsed, nil))
	require.NoError(t, s.RecordFeedback(ctx, item.ID, model.FeedbackUsed, nil))

	got, err := s.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.ViewCount)
}

func TestFindMissingEmbeddings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item, err := s.Insert(ctx, registrystore.CreateMemoryRequest{Content: "needs embedding", Type: model.MemoryTypeSemantic})
	require.NoError(t, err)

	missing, err := s.FindMissingEmbeddings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	require.Equal(t, item.ID, missing[0].ID)

	require.NoError(t, s.SetEmbedding(ctx, item.ID, []float32{1, 2, 3, 4}, "m"))
	missing, err = s.FindMissingEmbeddings(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, missing)
}
