package repository

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"product-atlas/internal/model"
	"product-atlas/pkg/database"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenDB("sqlite", filepath.Join(t.TempDir(), "atlas.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	return db
}

func TestConversation_AppendAssignsSequentialOrder(t *testing.T) {
	repo := NewConversationRepository(openTestDB(t))
	ctx := context.Background()

	conv, err := repo.Create(ctx, nil, "")
	require.NoError(t, err)

	for i, role := range []string{model.RoleUser, model.RoleAssistant, model.RoleUser} {
		msg, err := repo.AppendMessage(ctx, conv.ID, role, "m")
		require.NoError(t, err)
		assert.Equal(t, i+1, msg.OrderIndex)
	}

	msgs, err := repo.LoadMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
}

func TestConversation_ConcurrentAppendsAreContiguous(t *testing.T) {
	repo := NewConversationRepository(openTestDB(t))
	ctx := context.Background()
	conv, err := repo.Create(ctx, nil, "")
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.AppendMessage(ctx, conv.ID, model.RoleUser, "hi")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	msgs, err := repo.LoadMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, n)
	got := make([]int, n)
	for i, m := range msgs {
		got[i] = m.OrderIndex
	}
	assert.True(t, sort.IntsAreSorted(got))
	for i := range got {
		assert.Equal(t, i+1, got[i])
	}
}

func TestConversation_FirstUserMessageSetsTitle(t *testing.T) {
	repo := NewConversationRepository(openTestDB(t))
	ctx := context.Background()
	conv, err := repo.Create(ctx, nil, "")
	require.NoError(t, err)

	_, err = repo.AppendMessage(ctx, conv.ID, model.RoleUser, strings.Repeat("q", 130))
	require.NoError(t, err)
	_, err = repo.AppendMessage(ctx, conv.ID, model.RoleUser, "second question")
	require.NoError(t, err)

	got, err := repo.FindByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("q", 120)+"...", got.Title)
}

func TestConversation_ExistingTitleKept(t *testing.T) {
	repo := NewConversationRepository(openTestDB(t))
	ctx := context.Background()
	conv, err := repo.Create(ctx, nil, "Pricing review")
	require.NoError(t, err)

	_, err = repo.AppendMessage(ctx, conv.ID, model.RoleUser, "what changed?")
	require.NoError(t, err)

	got, err := repo.FindByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pricing review", got.Title)
}

func TestConversation_AppendValidation(t *testing.T) {
	repo := NewConversationRepository(openTestDB(t))
	ctx := context.Background()
	conv, err := repo.Create(ctx, nil, "")
	require.NoError(t, err)

	_, err = repo.AppendMessage(ctx, conv.ID, "system", "x")
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = repo.AppendMessage(ctx, "missing", model.RoleUser, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConversation_DeleteRemovesMessages(t *testing.T) {
	db := openTestDB(t)
	repo := NewConversationRepository(db)
	ctx := context.Background()
	conv, err := repo.Create(ctx, nil, "")
	require.NoError(t, err)
	_, err = repo.AppendMessage(ctx, conv.ID, model.RoleUser, "x")
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, conv.ID))

	_, err = repo.FindByID(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	var count int64
	require.NoError(t, db.Model(&model.Message{}).Where("conversation_id = ?", conv.ID).Count(&count).Error)
	assert.Zero(t, count)

	assert.ErrorIs(t, repo.Delete(ctx, conv.ID), ErrNotFound)
}

func TestConversation_ListNewestFirstAndByProject(t *testing.T) {
	db := openTestDB(t)
	repo := NewConversationRepository(db)
	projects := NewProjectRepository(db)
	ctx := context.Background()

	p, err := projects.Create(ctx, "Checkout", "")
	require.NoError(t, err)
	first, err := repo.Create(ctx, &p.ID, "first")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := repo.Create(ctx, &p.ID, "second")
	require.NoError(t, err)
	_, err = repo.Create(ctx, nil, "loose")
	require.NoError(t, err)

	byProject, err := repo.List(ctx, &p.ID)
	require.NoError(t, err)
	require.Len(t, byProject, 2)
	assert.Equal(t, second.ID, byProject[0].ID)
	assert.Equal(t, first.ID, byProject[1].ID)

	all, err := repo.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestConversation_UpdateTitle(t *testing.T) {
	repo := NewConversationRepository(openTestDB(t))
	ctx := context.Background()
	conv, err := repo.Create(ctx, nil, "")
	require.NoError(t, err)

	require.NoError(t, repo.UpdateTitle(ctx, conv.ID, "Renamed"))
	got, err := repo.FindByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)

	assert.ErrorIs(t, repo.UpdateTitle(ctx, "missing", "x"), ErrNotFound)
}

func TestProject_CRUDWithoutCascade(t *testing.T) {
	db := openTestDB(t)
	projects := NewProjectRepository(db)
	convs := NewConversationRepository(db)
	ctx := context.Background()

	p, err := projects.Create(ctx, "Growth", "experiments")
	require.NoError(t, err)
	conv, err := convs.Create(ctx, &p.ID, "")
	require.NoError(t, err)

	updated, err := projects.Update(ctx, p.ID, "Growth team", "q3 experiments")
	require.NoError(t, err)
	assert.Equal(t, "Growth team", updated.Name)

	list, err := projects.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "q3 experiments", list[0].Description)

	require.NoError(t, projects.Delete(ctx, p.ID))
	_, err = projects.FindByID(ctx, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, projects.Delete(ctx, p.ID), ErrNotFound)

	still, err := convs.FindByID(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, still.ProjectID)
	assert.Equal(t, p.ID, *still.ProjectID)
}
