package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mikestefanello/backlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miroshar-success/book-adapter-epub/internal/tasks"
)

type fakeTaskClient struct {
	enqueued []backlite.Task
	status   backlite.TaskStatus
	err      error
}

func (f *fakeTaskClient) Enqueue(ctx context.Context, ts ...backlite.Task) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.enqueued = append(f.enqueued, ts...)
	ids := make([]string, len(ts))
	for i := range ts {
		ids[i] = "task-1"
	}
	return ids, nil
}

func (f *fakeTaskClient) Status(ctx context.Context, taskID string) (backlite.TaskStatus, error) {
	return f.status, f.err
}

func tasksRouter(client TaskClient) *gin.Engine {
	return NewRouter(RouterConfig{TaskClient: client})
}

func serve(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestTasksController_RunTask(t *testing.T) {
	client := &fakeTaskClient{}
	router := tasksRouter(client)

	w := serve(router, "POST", "/api/tasks/reconcile_library/run")

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "task-1")
	require.Len(t, client.enqueued, 1)
	assert.IsType(t, tasks.ReconcileLibraryTask{}, client.enqueued[0])
}

func TestTasksController_RunTask_Unknown(t *testing.T) {
	router := tasksRouter(&fakeTaskClient{})

	w := serve(router, "POST", "/api/tasks/enrich_book/run")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown task type")
}

func TestTasksController_GetTaskStatus(t *testing.T) {
	router := tasksRouter(&fakeTaskClient{status: backlite.TaskStatusSuccess})

	w := serve(router, "GET", "/api/tasks/abc")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success"`)
}

func TestTasksController_GetTaskStatus_Error(t *testing.T) {
	router := tasksRouter(&fakeTaskClient{err: errors.New("locked")})

	w := serve(router, "GET", "/api/tasks/abc")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestTasksController_ListTaskTypes(t *testing.T) {
	router := tasksRouter(&fakeTaskClient{})

	w := serve(router, "GET", "/api/tasks/types")

	assert.Equal(t, http.StatusOK, w.Code)
	for _, name := range []string{"replay_uploads", "reconcile_library", "collect_orphans"} {
		assert.Contains(t, w.Body.String(), name)
	}
}

func TestUploads_AsyncEnqueuesTask(t *testing.T) {
	client := &fakeTaskClient{}
	router := tasksRouter(client)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/uploads", jsonBody(t, gin.H{"filepath": "novel.epub", "async": true}))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, client.enqueued, 1)
	assert.Equal(t, tasks.UploadBookTask{Filepath: "novel.epub"}, client.enqueued[0])
}

func TestTasksRoutesDisabledWithoutClient(t *testing.T) {
	router := NewRouter(RouterConfig{})

	w := serve(router, "GET", "/api/tasks/types")

	assert.Equal(t, http.StatusNotFound, w.Code)
}
