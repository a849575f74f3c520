package genai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"

	"github.com/orbita/neurolink/internal/model"
)

func testContext() model.NotificationContext {
	userID := uuid.New()
	return model.NotificationContext{
		Type:     model.TypeReminder,
		User:     &model.User{ID: userID, Name: "Dana", Level: 3, Streak: 4},
		Settings: model.DefaultSettings(userID),
		Now:      time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func chatReply(content string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
	})
	return string(body)
}

func newTestEngine(url string, attempts int) *Engine {
	return NewEngine(Config{
		APIURL:  url,
		Token:   "test-token",
		Timeout: time.Second,
		Retry:   retry.Strategy{Attempts: attempts, Delay: time.Millisecond, Backoff: 2},
	})
}

func TestGenerate_Success(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 300, req.MaxTokens)
		assert.InDelta(t, 0.7, req.Temperature, 1e-9)
		require.Len(t, req.Messages, 1)
		assert.Contains(t, req.Messages[0].Content, "Dana")

		w.Write([]byte(chatReply(`Here you go: {"title":"Back to it","message":"Your task is waiting.","tone":"casual","emoji":"🔥"} hope that helps`)))
	}))
	defer srv.Close()

	e := newTestEngine(srv.URL, 1)
	content, err := e.Generate(context.Background(), testContext())
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "Back to it", content.Title)
	assert.Equal(t, "Your task is waiting.", content.Message)
	assert.Equal(t, "casual", content.Tone)
	assert.True(t, content.GeneratedWithAI)
}

func TestGenerate_NotConfigured(t *testing.T) {
	e := NewEngine(Config{})
	_, err := e.Generate(context.Background(), testContext())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestGenerate_RetriesThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(chatReply(`{"title":"Hi","message":"There"}`)))
	}))
	defer srv.Close()

	e := newTestEngine(srv.URL, 3)
	content, err := e.Generate(context.Background(), testContext())
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "Hi", content.Title)
}

func TestGenerate_ExhaustsAttempts(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := newTestEngine(srv.URL, 3)
	_, err := e.Generate(context.Background(), testContext())
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestGenerate_TruncatesLongContent(t *testing.T) {
	long := strings.Repeat("a", 400)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(chatReply(`{"title":"` + long + `","message":"` + long + `"}`)))
	}))
	defer srv.Close()

	e := newTestEngine(srv.URL, 1)
	content, err := e.Generate(context.Background(), testContext())
	require.NoError(t, err)

	assert.LessOrEqual(t, len([]rune(content.Title)), model.MaxTitleLen)
	assert.LessOrEqual(t, len([]rune(content.Message)), model.MaxMessageLen)
	assert.True(t, strings.HasSuffix(content.Title, "..."))
}

func TestParseReply(t *testing.T) {
	t.Run("no JSON object", func(t *testing.T) {
		_, err := parseReply("sorry, cannot answer")
		assert.ErrorIs(t, err, ErrNoJSON)
	})

	t.Run("missing message", func(t *testing.T) {
		_, err := parseReply(`{"title":"only a title"}`)
		assert.ErrorIs(t, err, ErrIncomplete)
	})

	t.Run("defaults tone and emoji", func(t *testing.T) {
		content, err := parseReply(`{"title":"T","message":"M"}`)
		require.NoError(t, err)
		assert.Equal(t, "neutral", content.Tone)
		assert.NotEmpty(t, content.Emoji)
	})
}

func TestFallback_CoversEveryType(t *testing.T) {
	for _, typ := range model.Types {
		nc := testContext()
		nc.Type = typ
		due := nc.Now.Add(5 * time.Hour)
		nc.Task = &model.Task{Name: "Write report", Points: 10, DueAt: &due}

		content := Fallback(nc)
		assert.NotEmpty(t, content.Title, string(typ))
		assert.NotEmpty(t, content.Message, string(typ))
		assert.False(t, content.GeneratedWithAI)
		assert.LessOrEqual(t, len([]rune(content.Title)), model.MaxTitleLen)
		assert.LessOrEqual(t, len([]rune(content.Message)), model.MaxMessageLen)
	}
}

func TestFallback_UnknownTypeGetsGenericContent(t *testing.T) {
	nc := testContext()
	nc.Type = model.Type("SOMETHING_NEW")

	content := Fallback(nc)
	assert.NotEmpty(t, content.Title)
	assert.NotEmpty(t, content.Message)
}

func TestFallback_NoTask(t *testing.T) {
	nc := testContext()
	nc.Task = nil

	for _, typ := range model.Types {
		nc.Type = typ
		content := Fallback(nc)
		assert.NotEmpty(t, content.Message, string(typ))
	}
}
