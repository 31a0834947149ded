package threads

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forumsync/internal/cache"
	"github.com/forumsync/internal/forum"
	"github.com/forumsync/internal/model"
)

func newResolver(m *forum.Memory) *Resolver {
	return NewResolver(m, cache.New())
}

func TestResolveCreatesWhenMissing(t *testing.T) {
	m := forum.NewMemory()
	r := newResolver(m)
	ctx := context.Background()

	thread, created, err := r.ResolveOrCreate(ctx, "forum-1", "acme/widgets", 42, "Fix it", "https://example.com/42", nil, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "「#42」Fix it", thread.Name)

	// Default initial content is the item link.
	assert.Equal(t, []string{"[#42](https://example.com/42)"}, m.Messages(thread.ID))
}

func TestResolveUsesInitialContent(t *testing.T) {
	m := forum.NewMemory()
	r := newResolver(m)

	thread, created, err := r.ResolveOrCreate(context.Background(), "forum-1", "acme/widgets", 1, "a", "u", nil, "custom announcement")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{"custom announcement"}, m.Messages(thread.ID))
}

func TestResolveFindsExistingActiveThread(t *testing.T) {
	m := forum.NewMemory()
	ctx := context.Background()
	existing, err := m.CreateThread(ctx, "forum-1", model.ThreadName(42, "Fix it"), "", nil)
	require.NoError(t, err)

	r := newResolver(m)
	thread, created, err := r.ResolveOrCreate(ctx, "forum-1", "acme/widgets", 42, "Fix it", "u", nil, "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing.ID, thread.ID)
	assert.Equal(t, 1, m.ThreadCount("forum-1"))
}

// Thread 1 must not be confused with thread 10: the closing bracket in
// the name marker is the number boundary.
func TestResolveDistinguishesPrefixNumbers(t *testing.T) {
	m := forum.NewMemory()
	ctx := context.Background()
	ten, err := m.CreateThread(ctx, "forum-1", model.ThreadName(10, "tenth"), "", nil)
	require.NoError(t, err)

	r := newResolver(m)
	thread, created, err := r.ResolveOrCreate(ctx, "forum-1", "acme/widgets", 1, "first", "u", nil, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, ten.ID, thread.ID)
}

func TestResolveFindsArchivedThread(t *testing.T) {
	m := forum.NewMemory()
	ctx := context.Background()
	archived, err := m.CreateThread(ctx, "forum-1", model.ThreadName(5, "old"), "", nil)
	require.NoError(t, err)
	m.Archive(archived.ID)

	r := newResolver(m)
	thread, created, err := r.ResolveOrCreate(ctx, "forum-1", "acme/widgets", 5, "old", "u", nil, "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, archived.ID, thread.ID)
}

func TestResolveRecreatesArchivedUnderPolicy(t *testing.T) {
	m := forum.NewMemory()
	ctx := context.Background()
	archived, err := m.CreateThread(ctx, "forum-1", model.ThreadName(5, "old"), "", nil)
	require.NoError(t, err)
	m.Archive(archived.ID)

	r := newResolver(m)
	r.RecreateArchived = true
	thread, created, err := r.ResolveOrCreate(ctx, "forum-1", "acme/widgets", 5, "old", "u", nil, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, archived.ID, thread.ID)
	assert.False(t, thread.Archived)
}

// Item numbers are only unique within one repository. When two tracked
// repositories share a forum, the scan must not hand repo B's resolution
// a thread tagged for repo A.
func TestResolveSkipsOtherRepoThreadInSharedForum(t *testing.T) {
	m := forum.NewMemory()
	ctx := context.Background()
	alphaTag, err := m.CreateTag(ctx, "forum-1", "alpha")
	require.NoError(t, err)
	alphaThread, err := m.CreateThread(ctx, "forum-1", model.ThreadName(5, "alpha item"), "", []forum.Tag{alphaTag})
	require.NoError(t, err)

	r := newResolver(m)
	r.KnownRepoTags = []string{"alpha", "beta"}

	betaTag, err := m.CreateTag(ctx, "forum-1", "beta")
	require.NoError(t, err)
	thread, created, err := r.ResolveOrCreate(ctx, "forum-1", "acme/beta", 5, "beta item", "u", []forum.Tag{betaTag}, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, alphaThread.ID, thread.ID)

	// The owning repository still adopts its own thread.
	thread, created, err = r.ResolveOrCreate(ctx, "forum-1", "acme/alpha", 5, "alpha item", "u", nil, "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, alphaThread.ID, thread.ID)
}

func TestResolveInvalidatesDeletedCachedThread(t *testing.T) {
	m := forum.NewMemory()
	r := newResolver(m)
	ctx := context.Background()

	first, created, err := r.ResolveOrCreate(ctx, "forum-1", "acme/widgets", 3, "a", "u", nil, "")
	require.NoError(t, err)
	require.True(t, created)

	// The thread vanishes behind the cache's back.
	require.NoError(t, m.DeleteThread(ctx, first.ID))

	second, created, err := r.ResolveOrCreate(ctx, "forum-1", "acme/widgets", 3, "a", "u", nil, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestResolveCreateFailure(t *testing.T) {
	m := forum.NewMemory()
	m.Deny("create_thread")
	r := newResolver(m)

	_, _, err := r.ResolveOrCreate(context.Background(), "forum-1", "acme/widgets", 1, "a", "u", nil, "")
	assert.ErrorIs(t, err, forum.ErrForbidden)
}

// Concurrent resolutions of the same identity must converge on exactly
// one thread.
func TestResolveConcurrentSameIdentity(t *testing.T) {
	m := forum.NewMemory()
	r := newResolver(m)

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			thread, _, err := r.ResolveOrCreate(context.Background(), "forum-1", "acme/widgets", 7, "same", "u", nil, "")
			if assert.NoError(t, err) {
				ids[i] = thread.ID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, m.ThreadCount("forum-1"))
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestResolveConcurrentDistinctIdentities(t *testing.T) {
	m := forum.NewMemory()
	r := newResolver(m)

	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _, err := r.ResolveOrCreate(context.Background(), "forum-1", "acme/widgets", n, fmt.Sprintf("item %d", n), "u", nil, "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, m.ThreadCount("forum-1"))
}
