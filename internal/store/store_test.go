package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casebook/pkg/models"
)

// runStoreSuite exercises behaviour every Store implementation must share.
func runStoreSuite(t *testing.T, s Store) {
	ctx := context.Background()
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())

	owner := &models.User{Username: "owner-" + suffix, PasswordHash: "hash", Roles: "lawyers paralegals"}
	require.NoError(t, s.CreateUser(ctx, owner))
	require.NotZero(t, owner.ID)

	t.Run("Users", func(t *testing.T) {
		dup := &models.User{Username: owner.Username, PasswordHash: "x"}
		assert.ErrorIs(t, s.CreateUser(ctx, dup), ErrDuplicate)

		got, err := s.GetUserByUsername(ctx, owner.Username)
		require.NoError(t, err)
		assert.Equal(t, owner.ID, got.ID)
		assert.True(t, got.HasRole("paralegals"))

		_, err = s.GetUser(ctx, -1)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	project := &models.Project{Name: "lawyers", OwnerID: owner.ID, Status: models.ProjectPublished}
	require.NoError(t, s.CreateProject(ctx, project))

	t.Run("Chatbots", func(t *testing.T) {
		bot := &models.Chatbot{ProjectID: project.ID, Name: "intake", PrePrompt: "You are an attorney.", Model: "gpt-4"}
		require.NoError(t, s.CreateChatbot(ctx, bot))

		bot.PrePrompt = "You are a paralegal."
		require.NoError(t, s.UpdateChatbot(ctx, bot))

		bots, err := s.ListChatbotsByProject(ctx, project.ID)
		require.NoError(t, err)
		require.Len(t, bots, 1)
		assert.Equal(t, "You are a paralegal.", bots[0].PrePrompt)

		assert.ErrorIs(t, s.UpdateChatbot(ctx, &models.Chatbot{ID: -1}), ErrNotFound)
	})

	t.Run("ExchangeCompareAndSwap", func(t *testing.T) {
		ex := &models.Exchange{
			ProjectID: project.ID,
			UserID:    owner.ID,
			Prompt:    "What is X?",
			Model:     "gpt-3.5-turbo",
			Status:    models.ExchangeReady,
		}
		require.NoError(t, s.CreateExchange(ctx, ex))

		stored, err := s.GetExchange(ctx, ex.ID)
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(ex, stored, cmpopts.EquateApproxTime(time.Second)))

		now := time.Now()
		next := *stored
		next.Status = models.ExchangeInProgress
		next.TaskHandle = "fifo:abc"
		next.SubmittedAt = &now

		ok, err := s.CompareAndSwapExchange(ctx, &next, models.ExchangeReady, "")
		require.NoError(t, err)
		assert.True(t, ok)

		// A second writer holding the stale view loses.
		stale := *stored
		stale.Status = models.ExchangeInProgress
		stale.TaskHandle = "fifo:other"
		ok, err = s.CompareAndSwapExchange(ctx, &stale, models.ExchangeReady, "")
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.GetExchange(ctx, ex.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ExchangeInProgress, got.Status)
		assert.Equal(t, "fifo:abc", got.TaskHandle)
		assert.Equal(t, stored.Version+1, got.Version)

		done := *got
		done.Status = models.ExchangeReady
		done.TaskHandle = ""
		done.SubmittedAt = nil
		done.Reply = "Answer text"
		ok, err = s.CompareAndSwapExchange(ctx, &done, models.ExchangeInProgress, "fifo:abc")
		require.NoError(t, err)
		assert.True(t, ok)

		// Status and handle are back to what the first reader saw, but the
		// row has moved on since.
		late := *stored
		late.Status = models.ExchangeInProgress
		late.TaskHandle = "fifo:late"
		ok, err = s.CompareAndSwapExchange(ctx, &late, models.ExchangeReady, "")
		require.NoError(t, err)
		assert.False(t, ok)

		got, err = s.GetExchange(ctx, ex.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ExchangeReady, got.Status)
		assert.Equal(t, "Answer text", got.Reply)
		assert.Equal(t, done.Version, got.Version)

		_, err = s.CompareAndSwapExchange(ctx, &models.Exchange{ID: -1}, models.ExchangeReady, "")
		assert.ErrorIs(t, err, ErrNotFound)

		list, err := s.ListExchangesByProject(ctx, project.ID)
		require.NoError(t, err)
		require.NotEmpty(t, list)
		assert.Equal(t, ex.ID, list[len(list)-1].ID)
	})

	t.Run("UserActions", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			require.NoError(t, s.InsertUserAction(ctx, &models.UserAction{
				UserID:      owner.ID,
				Level:       models.ActionNormal,
				Action:      "GET_AICHAT",
				Description: fmt.Sprintf("aichat %d", i),
			}))
		}

		actions, err := s.ListUserActions(ctx, 2)
		require.NoError(t, err)
		require.Len(t, actions, 2)
		assert.Equal(t, "aichat 2", actions[0].Description)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, NewMemory())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	chatbotID := int64(7)
	ex := &models.Exchange{ProjectID: 1, ChatbotID: &chatbotID, Status: models.ExchangeReady}
	require.NoError(t, m.CreateExchange(ctx, ex))

	got, err := m.GetExchange(ctx, ex.ID)
	require.NoError(t, err)
	got.Reply = "mutated"
	*got.ChatbotID = 99

	again, err := m.GetExchange(ctx, ex.ID)
	require.NoError(t, err)
	assert.Empty(t, again.Reply)
	assert.Equal(t, int64(7), *again.ChatbotID)
}
