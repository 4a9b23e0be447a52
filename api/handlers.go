package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/kimipdb306/scout-tdl/board"
	"github.com/kimipdb306/scout-tdl/domain"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, boards *board.Registry, syncer Syncer, auth Authenticator, logger *log.Logger) {
	e.GET("/api/items", getItems(boards, auth, logger))
	e.POST("/api/items", postItem(boards, syncer, auth))
	e.GET("/api/items/:id", getItem(boards, auth))
	e.PUT("/api/items/:id", putItem(boards, syncer, auth))
	e.DELETE("/api/items/:id", deleteItem(boards, syncer, auth))
	e.POST("/api/items/:id/move", moveItem(boards, syncer, auth))
	e.GET("/api/stats", getStats(boards, auth))
	e.GET("/api/history", getHistory(boards, auth))
	e.GET("/api/history/stats", getHistoryStats(boards, auth))
	e.POST("/api/sync", postSync(boards, syncer, auth))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, writeBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// engineError maps engine failures onto HTTP responses. Persistence errors
// stay out of the response body.
func engineError(c echo.Context, err error) error {
	var nf *board.NotFoundError
	if errors.As(err, &nf) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	c.Logger().Error(err)
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func boardFor(c echo.Context, boards *board.Registry, auth Authenticator) (*board.Engine, error) {
	userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
	if err != nil {
		return nil, c.String(http.StatusUnauthorized, err.Error())
	}
	engine, err := boards.Board(userID)
	if err != nil {
		c.Logger().Error(err)
		return nil, c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
	return engine, nil
}

func getItems(boards *board.Registry, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newItemsRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		loadStart := time.Now()
		engine, loadErr := boards.Board(userID)
		if loadErr != nil {
			metrics.ObserveLoad(time.Since(loadStart))
			metrics.SetErrorStage("storage")
			c.Logger().Error(loadErr)
			err = c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return err
		}

		statusFilter := strings.TrimSpace(c.QueryParam("status"))
		if statusFilter != "" {
			metrics.SetStatusFilter(statusFilter)
			status, parseErr := domain.ParseStatus(statusFilter)
			if parseErr != nil {
				metrics.SetErrorStage("invalid_status")
				err = c.JSON(http.StatusBadRequest, errorResponse{Error: parseErr.Error()})
				return err
			}
			items := engine.ItemsByStatus(status)
			metrics.ObserveLoad(time.Since(loadStart))
			metrics.SetItemsReturned(len(items))

			encodeStart := time.Now()
			err = c.JSON(http.StatusOK, itemsResponse{Items: items})
			metrics.ObserveEncode(time.Since(encodeStart))
			return err
		}

		dueStart := strings.TrimSpace(c.QueryParam("due_start"))
		dueEnd := strings.TrimSpace(c.QueryParam("due_end"))
		if dueStart != "" || dueEnd != "" {
			if dueStart == "" {
				dueStart = "0000-01-01"
			}
			if dueEnd == "" {
				dueEnd = "9999-12-31"
			}
			if domain.ValidateDueDate(dueStart) != nil || domain.ValidateDueDate(dueEnd) != nil {
				metrics.SetErrorStage("invalid_due_window")
				err = c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid due date window"})
				return err
			}
			items := engine.DueBetween(dueStart, dueEnd)
			metrics.ObserveLoad(time.Since(loadStart))
			metrics.SetItemsReturned(len(items))

			encodeStart := time.Now()
			err = c.JSON(http.StatusOK, itemsResponse{Items: items})
			metrics.ObserveEncode(time.Since(encodeStart))
			return err
		}

		resp := boardResponse{
			Todo:       engine.ItemsByStatus(domain.StatusTodo),
			InProgress: engine.ItemsByStatus(domain.StatusInProgress),
			Review:     engine.ItemsByStatus(domain.StatusReview),
			Done:       engine.ItemsByStatus(domain.StatusDone),
		}
		metrics.ObserveLoad(time.Since(loadStart))
		metrics.SetItemsReturned(len(resp.Todo) + len(resp.InProgress) + len(resp.Review) + len(resp.Done))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, resp)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func postItem(boards *board.Registry, syncer Syncer, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		engine, err := boardFor(c, boards, auth)
		if engine == nil {
			return err
		}

		var req createItemRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if strings.TrimSpace(req.Title) == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "title is required"})
		}

		priority := domain.PriorityMedium
		if req.Priority != "" {
			parsed, err := domain.ParsePriority(req.Priority)
			if err != nil {
				return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			}
			priority = parsed
		}

		item, err := engine.AddItem(req.Title, priority, req.DueDate, req.Description)
		if err != nil {
			return engineError(c, err)
		}
		if len(req.Tags) > 0 {
			item, err = engine.UpdateItem(item.ID, board.UpdateFields{Tags: &req.Tags})
			if err != nil {
				return engineError(c, err)
			}
		}

		syncer.DispatchAdd(item, engine.UserID())
		return c.JSON(http.StatusCreated, item)
	}
}

func getItem(boards *board.Registry, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		engine, err := boardFor(c, boards, auth)
		if engine == nil {
			return err
		}

		item, ok := engine.GetItem(c.Param("id"))
		if !ok {
			nf := &board.NotFoundError{ID: c.Param("id")}
			return c.JSON(http.StatusNotFound, errorResponse{Error: nf.Error()})
		}
		return c.JSON(http.StatusOK, item)
	}
}

func putItem(boards *board.Registry, syncer Syncer, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		engine, err := boardFor(c, boards, auth)
		if engine == nil {
			return err
		}

		var req updateItemRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}

		fields := board.UpdateFields{
			Title:       req.Title,
			Description: req.Description,
			DueDate:     req.DueDate,
			Tags:        req.Tags,
		}
		if req.Priority != nil {
			priority, err := domain.ParsePriority(*req.Priority)
			if err != nil {
				return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			}
			fields.Priority = &priority
		}
		if req.Status != nil {
			status, err := domain.ParseStatus(*req.Status)
			if err != nil {
				return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			}
			fields.Status = &status
		}

		item, err := engine.UpdateItem(c.Param("id"), fields)
		if err != nil {
			return engineError(c, err)
		}

		if item.Status == domain.StatusDone {
			syncer.DispatchRemove(item.ID)
		} else {
			syncer.DispatchUpdate(item, engine.UserID())
		}
		return c.JSON(http.StatusOK, item)
	}
}

func deleteItem(boards *board.Registry, syncer Syncer, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		engine, err := boardFor(c, boards, auth)
		if engine == nil {
			return err
		}

		id := c.Param("id")
		if err := engine.DeleteItem(id); err != nil {
			return engineError(c, err)
		}

		syncer.DispatchRemove(id)
		return c.JSON(http.StatusOK, okResponse{OK: true})
	}
}

func moveItem(boards *board.Registry, syncer Syncer, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		engine, err := boardFor(c, boards, auth)
		if engine == nil {
			return err
		}

		var req moveItemRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		status, err := domain.ParseStatus(req.Status)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}

		item, err := engine.MoveItem(c.Param("id"), status)
		if err != nil {
			return engineError(c, err)
		}

		if item.Status == domain.StatusDone {
			syncer.DispatchRemove(item.ID)
		} else {
			syncer.DispatchUpdate(item, engine.UserID())
		}
		return c.JSON(http.StatusOK, item)
	}
}

func getStats(boards *board.Registry, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		engine, err := boardFor(c, boards, auth)
		if engine == nil {
			return err
		}

		resp := boardStatsResponse{
			TodoCount:       len(engine.ItemsByStatus(domain.StatusTodo)),
			InProgressCount: len(engine.ItemsByStatus(domain.StatusInProgress)),
			ReviewCount:     len(engine.ItemsByStatus(domain.StatusReview)),
			DoneCount:       len(engine.ItemsByStatus(domain.StatusDone)),
		}
		resp.TotalItems = resp.TodoCount + resp.InProgressCount + resp.ReviewCount + resp.DoneCount
		if top, ok := engine.TopPriorityItem(domain.StatusTodo); ok {
			resp.TopPriorityTodo = top
		}
		if top, ok := engine.TopPriorityItem(domain.StatusInProgress); ok {
			resp.TopPriorityInProgress = top
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func getHistory(boards *board.Registry, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		engine, err := boardFor(c, boards, auth)
		if engine == nil {
			return err
		}

		limit, err := queryInt(c, "limit", 0)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid limit"})
		}
		offset, err := queryInt(c, "offset", 0)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid offset"})
		}

		tag := strings.TrimSpace(c.QueryParam("tag"))
		startDate := strings.TrimSpace(c.QueryParam("start_date"))
		endDate := strings.TrimSpace(c.QueryParam("end_date"))

		var items []*domain.Item
		switch {
		case tag != "":
			items = engine.CompletedItemsByTag(tag)
		case startDate != "" || endDate != "":
			if startDate == "" {
				startDate = "0000-01-01"
			}
			if endDate == "" {
				endDate = "9999-12-31"
			}
			items = engine.CompletedItemsByDate(startDate, endDate)
		default:
			items = engine.CompletedItems(limit, offset)
		}

		return c.JSON(http.StatusOK, historyResponse{
			Items: items,
			Total: engine.CompletedCount(),
			Stats: engine.CompletionStats(),
		})
	}
}

func getHistoryStats(boards *board.Registry, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		engine, err := boardFor(c, boards, auth)
		if engine == nil {
			return err
		}
		return c.JSON(http.StatusOK, engine.CompletionStats())
	}
}

// postSync re-dispatches every open item with a due date, bringing backends
// that missed earlier dispatches back in line.
func postSync(boards *board.Registry, syncer Syncer, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		engine, err := boardFor(c, boards, auth)
		if engine == nil {
			return err
		}

		scheduled := 0
		for _, item := range engine.AllItems() {
			if item.Status == domain.StatusDone || item.DueDate == "" {
				continue
			}
			syncer.DispatchUpdate(item, engine.UserID())
			scheduled++
		}
		return c.JSON(http.StatusAccepted, okResponse{
			OK:      true,
			Message: fmt.Sprintf("scheduled %d items", scheduled),
		})
	}
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return v, nil
}
