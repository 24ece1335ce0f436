package vectorstore

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bagOfWords embeds text as a normalised bag of hashed lower-case words.
func bagOfWords(_ context.Context, text string) ([]float32, error) {
	const dims = 64
	v := make([]float32, dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(w, ".,?!")))
		v[h.Sum32()%dims]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v, nil
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v, nil
}

func newMemStore(t *testing.T) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore("", false, bagOfWords, 2)
	require.NoError(t, err)
	return s
}

func TestChromemStore_QueryEmptyCollection(t *testing.T) {
	s := newMemStore(t)

	res, err := s.Query(context.Background(), "nothing_here", "pricing", 5)
	require.NoError(t, err)
	assert.True(t, res.Empty())
}

func TestChromemStore_AddAndQuery(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	err := s.AddDocuments(ctx, "pm_docs",
		[]string{"a", "b", "c"},
		[]string{"pricing tiers for enterprise plan", "onboarding checklist for new users", "roadmap for next quarter"},
		[]ChunkMetadata{
			{Source: "/docs/pricing.md", ChunkIndex: 0, Filename: "pricing.md"},
			{Source: "/docs/onboarding.md", ChunkIndex: 0, Filename: "onboarding.md"},
			{Source: "/docs/roadmap.md", ChunkIndex: 2, Filename: "roadmap.md"},
		})
	require.NoError(t, err)

	res, err := s.Query(ctx, "pm_docs", "enterprise pricing", 2)
	require.NoError(t, err)
	docs, metas := res.First()
	require.Len(t, docs, 2)
	require.Len(t, metas, 2)
	assert.Equal(t, "pricing tiers for enterprise plan", docs[0])
	assert.Equal(t, ChunkMetadata{Source: "/docs/pricing.md", ChunkIndex: 0, Filename: "pricing.md"}, metas[0])
}

func TestChromemStore_QueryClampsK(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddDocuments(ctx, "c", []string{"1"}, []string{"only chunk"}, nil))

	res, err := s.Query(ctx, "c", "chunk", 10)
	require.NoError(t, err)
	docs, metas := res.First()
	assert.Equal(t, []string{"only chunk"}, docs)
	assert.Equal(t, "", metas[0].Source)
}

func TestChromemStore_AddValidation(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	err := s.AddDocuments(ctx, "c", []string{"1", "2"}, []string{"x"}, nil)
	assert.Error(t, err)

	err = s.AddDocuments(ctx, "c", []string{"1"}, []string{"x"}, []ChunkMetadata{{}, {}})
	assert.Error(t, err)

	err = s.AddDocuments(ctx, "c", []string{"1", "1"}, []string{"x", "y"}, nil)
	assert.Error(t, err)
}

func TestChromemStore_DeleteBySource(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddDocuments(ctx, "c",
		[]string{"1", "2", "3"},
		[]string{"alpha one", "alpha two", "beta"},
		[]ChunkMetadata{{Source: "a.md"}, {Source: "a.md", ChunkIndex: 1}, {Source: "b.md"}}))

	require.NoError(t, s.DeleteBySource(ctx, "c", "a.md"))

	res, err := s.Query(ctx, "c", "alpha", 5)
	require.NoError(t, err)
	docs, metas := res.First()
	assert.Equal(t, []string{"beta"}, docs)
	assert.Equal(t, "b.md", metas[0].Source)
}

func TestChromemStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewChromemStore(dir, false, bagOfWords, 1)
	require.NoError(t, err)
	require.NoError(t, s.AddDocuments(ctx, "c", []string{"1"}, []string{"persisted chunk"}, []ChunkMetadata{{Source: "p.md"}}))

	reopened, err := NewChromemStore(dir, false, bagOfWords, 1)
	require.NoError(t, err)
	res, err := reopened.Query(ctx, "c", "persisted", 1)
	require.NoError(t, err)
	docs, _ := res.First()
	assert.Equal(t, []string{"persisted chunk"}, docs)
}

func TestChromemStore_Sources(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	sources, err := s.Sources(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, sources)

	require.NoError(t, s.AddDocuments(ctx, "c",
		[]string{"1", "2", "3", "4"},
		[]string{"alpha one", "alpha two", "beta", "no source"},
		[]ChunkMetadata{{Source: "/docs/b.md"}, {Source: "/docs/b.md", ChunkIndex: 1}, {Source: "/docs/a.md"}, {}}))

	sources, err = s.Sources(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"/docs/a.md", "/docs/b.md"}, sources)
}
