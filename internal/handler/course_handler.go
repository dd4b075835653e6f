package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-platform-api/internal/models"
	"github.com/noah-isme/course-platform-api/internal/service"
	appErrors "github.com/noah-isme/course-platform-api/pkg/errors"
	"github.com/noah-isme/course-platform-api/pkg/response"
)

type courseService interface {
	Create(ctx context.Context, req service.CreateCourseRequest) (*models.Course, error)
	Get(ctx context.Context, id int64) (*models.Course, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error)
	Transition(ctx context.Context, id int64, target models.CourseStatus) (*models.Course, error)
}

type reconcilerService interface {
	Run(ctx context.Context) (models.ReconciliationResult, error)
}

// CourseHandler exposes course endpoints.
type CourseHandler struct {
	courses    courseService
	reconciler reconcilerService
}

// NewCourseHandler constructs a course handler.
func NewCourseHandler(courses courseService, reconciler reconcilerService) *CourseHandler {
	return &CourseHandler{courses: courses, reconciler: reconciler}
}

// TransitionCourseRequest carries the target lifecycle state.
type TransitionCourseRequest struct {
	Status models.CourseStatus `json:"status" binding:"required"`
}

// List godoc
// @Summary List courses
// @Tags Courses
// @Produce json
// @Param status query string false "Filter by lifecycle status"
// @Param published query bool false "Filter by visibility"
// @Param search query string false "Title search"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /courses [get]
func (h *CourseHandler) List(c *gin.Context) {
	var filter models.CourseFilter
	if status := c.Query("status"); status != "" {
		filter.Status = models.CourseStatus(status)
	}
	if published := c.Query("published"); published != "" {
		if val, err := strconv.ParseBool(published); err == nil {
			filter.Published = &val
		}
	}
	filter.Search = c.Query("search")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	courses, pagination, err := h.courses.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, pagination)
}

// Get godoc
// @Summary Get course by id
// @Tags Courses
// @Produce json
// @Param id path int true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id} [get]
func (h *CourseHandler) Get(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	course, err := h.courses.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Create godoc
// @Summary Create course
// @Tags Courses
// @Accept json
// @Produce json
// @Param payload body service.CreateCourseRequest true "Course payload"
// @Success 201 {object} response.Envelope
// @Router /courses [post]
func (h *CourseHandler) Create(c *gin.Context) {
	var req service.CreateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload"))
		return
	}
	course, err := h.courses.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// Transition godoc
// @Summary Transition course lifecycle state
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path int true "Course ID"
// @Param payload body TransitionCourseRequest true "Target state"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/transition [post]
func (h *CourseHandler) Transition(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req TransitionCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition payload"))
		return
	}
	course, err := h.courses.Transition(c.Request.Context(), id, req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Reconcile godoc
// @Summary Run course lifecycle reconciliation now
// @Tags Courses
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/reconcile [post]
func (h *CourseHandler) Reconcile(c *gin.Context) {
	result, err := h.reconciler.Run(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

func pathID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "invalid id")
	}
	return id, nil
}
