package users_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/collab/internal/collabs"
	"github.com/aura-webinar/collab/internal/middleware"
	"github.com/aura-webinar/collab/internal/models"
	"github.com/aura-webinar/collab/internal/users"
	"github.com/aura-webinar/collab/pkg/database"
)

type directory interface {
	users.Store
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.User, error)
}

func stores(t *testing.T) map[string]directory {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.MigrateSQLite(ctx, db))
	return map[string]directory{
		"memory": users.NewMemoryRepository(),
		"sqlite": users.NewSQLiteRepository(db),
	}
}

func TestDirectories(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			u := &models.User{ID: uuid.New(), Username: "nova", YouTube: "https://youtube.com/@nova"}

			_, err := store.GetByID(ctx, u.ID)
			assert.ErrorIs(t, err, collabs.ErrUserNotFound)

			require.NoError(t, store.Upsert(ctx, u))
			assert.False(t, u.CreatedAt.IsZero())
			created := u.CreatedAt

			got, err := store.GetByID(ctx, u.ID)
			require.NoError(t, err)
			assert.Equal(t, "nova", got.Username)
			assert.False(t, got.HasVerifiedChannels())

			u.Facebook = "https://facebook.com/nova"
			require.NoError(t, store.Upsert(ctx, u))
			assert.True(t, u.CreatedAt.Equal(created))
			got, err = store.GetByID(ctx, u.ID)
			require.NoError(t, err)
			assert.True(t, got.HasVerifiedChannels())

			other := &models.User{ID: uuid.New(), Username: "orbit"}
			require.NoError(t, store.Upsert(ctx, other))
			list, err := store.ListByIDs(ctx, []uuid.UUID{u.ID, uuid.New(), other.ID})
			require.NoError(t, err)
			names := make([]string, 0, len(list))
			for _, l := range list {
				names = append(names, l.Username)
			}
			assert.ElementsMatch(t, []string{"nova", "orbit"}, names)

			list, err = store.ListByIDs(ctx, nil)
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func newRouter(store users.Store, caller uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := users.NewHandler(store)
	r := gin.New()
	r.GET("/users/:userId", h.GetByID)
	r.PUT("/users/me", func(c *gin.Context) {
		c.Set(middleware.ContextUserID, caller)
		c.Set(middleware.ContextUsername, "from-token")
	}, h.UpdateMe)
	return r
}

func put(r *gin.Engine, body any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPut, "/users/me", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetUser(t *testing.T) {
	store := users.NewMemoryRepository()
	u := &models.User{ID: uuid.New(), Username: "nova"}
	require.NoError(t, store.Upsert(context.Background(), u))
	r := newRouter(store, uuid.New())

	for path, status := range map[string]int{
		"/users/" + u.ID.String():    http.StatusOK,
		"/users/" + uuid.NewString(): http.StatusNotFound,
		"/users/not-a-uuid":          http.StatusBadRequest,
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, status, w.Code, path)
	}
}

func TestUpdateMe(t *testing.T) {
	store := users.NewMemoryRepository()
	me := uuid.New()
	r := newRouter(store, me)

	w := put(r, users.ProfileRequest{YouTube: "https://www.youtube.com/@me"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got, err := store.GetByID(context.Background(), me)
	require.NoError(t, err)
	assert.Equal(t, "from-token", got.Username)
	assert.Equal(t, "https://www.youtube.com/@me", got.YouTube)

	w = put(r, users.ProfileRequest{Username: "  renamed ", Facebook: "https://m.facebook.com/me"})
	require.Equal(t, http.StatusOK, w.Code)
	got, err = store.GetByID(context.Background(), me)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Username)
	assert.Equal(t, "https://www.youtube.com/@me", got.YouTube)
	assert.True(t, got.HasVerifiedChannels())
}

func TestUpdateMeValidation(t *testing.T) {
	store := users.NewMemoryRepository()
	r := newRouter(store, uuid.New())

	tests := []struct {
		name string
		body users.ProfileRequest
		want string
	}{
		{"youtube", users.ProfileRequest{YouTube: "https://vimeo.com/me"}, "invalid youtube link"},
		{"facebook", users.ProfileRequest{Facebook: "https://twitter.com/me"}, "invalid facebook link"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := put(r, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}

	req := httptest.NewRequest(http.MethodPut, "/users/me", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
