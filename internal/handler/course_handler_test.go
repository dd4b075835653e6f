package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-platform-api/internal/models"
	"github.com/noah-isme/course-platform-api/internal/service"
	appErrors "github.com/noah-isme/course-platform-api/pkg/errors"
	"github.com/noah-isme/course-platform-api/pkg/response"
)

type courseServiceMock struct {
	course        *models.Course
	courses       []models.Course
	err           error
	lastTarget    models.CourseStatus
	lastCreateReq service.CreateCourseRequest
}

func (m *courseServiceMock) Create(ctx context.Context, req service.CreateCourseRequest) (*models.Course, error) {
	m.lastCreateReq = req
	return m.course, m.err
}

func (m *courseServiceMock) Get(ctx context.Context, id int64) (*models.Course, error) {
	return m.course, m.err
}

func (m *courseServiceMock) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	return m.courses, &models.Pagination{Page: 1, PageSize: 20, TotalCount: len(m.courses)}, m.err
}

func (m *courseServiceMock) Transition(ctx context.Context, id int64, target models.CourseStatus) (*models.Course, error) {
	m.lastTarget = target
	return m.course, m.err
}

type reconcilerServiceMock struct {
	result models.ReconciliationResult
	err    error
}

func (m *reconcilerServiceMock) Run(ctx context.Context) (models.ReconciliationResult, error) {
	return m.result, m.err
}

func courseTestContext(t *testing.T, method, target string, body string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var req *http.Request
	if body == "" {
		req, _ = http.NewRequest(method, target, nil)
	} else {
		req, _ = http.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	c.Request = req
	return c, w
}

func TestCourseHandlerTransition(t *testing.T) {
	mockSvc := &courseServiceMock{course: &models.Course{ID: 1, Status: models.CourseStatusInProgress}}
	h := NewCourseHandler(mockSvc, &reconcilerServiceMock{})

	c, w := courseTestContext(t, http.MethodPost, "/courses/1/transition", `{"status":"IN_PROGRESS"}`)
	c.Params = gin.Params{{Key: "id", Value: "1"}}

	h.Transition(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.CourseStatusInProgress, mockSvc.lastTarget)
}

func TestCourseHandlerTransitionInvalidEdge(t *testing.T) {
	mockSvc := &courseServiceMock{err: appErrors.ErrInvalidTransition}
	h := NewCourseHandler(mockSvc, &reconcilerServiceMock{})

	c, w := courseTestContext(t, http.MethodPost, "/courses/1/transition", `{"status":"FINISHED"}`)
	c.Params = gin.Params{{Key: "id", Value: "1"}}

	h.Transition(c)
	require.Equal(t, http.StatusConflict, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, envelope.Error.Code)
}

func TestCourseHandlerTransitionBadID(t *testing.T) {
	h := NewCourseHandler(&courseServiceMock{}, &reconcilerServiceMock{})

	c, w := courseTestContext(t, http.MethodPost, "/courses/abc/transition", `{"status":"FINISHED"}`)
	c.Params = gin.Params{{Key: "id", Value: "abc"}}

	h.Transition(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCourseHandlerTransitionMissingStatus(t *testing.T) {
	h := NewCourseHandler(&courseServiceMock{}, &reconcilerServiceMock{})

	c, w := courseTestContext(t, http.MethodPost, "/courses/1/transition", `{}`)
	c.Params = gin.Params{{Key: "id", Value: "1"}}

	h.Transition(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCourseHandlerCreate(t *testing.T) {
	mockSvc := &courseServiceMock{course: &models.Course{ID: 3, Title: "Go Fundamentals"}}
	h := NewCourseHandler(mockSvc, &reconcilerServiceMock{})

	body := `{"title":"Go Fundamentals","starts_at":"2026-09-01T09:00:00Z","ends_at":"2026-09-05T17:00:00Z"}`
	c, w := courseTestContext(t, http.MethodPost, "/courses", body)

	h.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Go Fundamentals", mockSvc.lastCreateReq.Title)
}

func TestCourseHandlerGetNotFound(t *testing.T) {
	mockSvc := &courseServiceMock{err: appErrors.ErrNotFound}
	h := NewCourseHandler(mockSvc, &reconcilerServiceMock{})

	c, w := courseTestContext(t, http.MethodGet, "/courses/9", "")
	c.Params = gin.Params{{Key: "id", Value: "9"}}

	h.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCourseHandlerReconcile(t *testing.T) {
	h := NewCourseHandler(&courseServiceMock{}, &reconcilerServiceMock{result: models.ReconciliationResult{Started: 2, Finished: 1}})

	c, w := courseTestContext(t, http.MethodPost, "/admin/reconcile", "")

	h.Reconcile(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"started":2`)
	assert.Contains(t, w.Body.String(), `"finished":1`)
}
