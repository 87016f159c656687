package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sunnah-audio/internal/apperr"
	"github.com/iliyamo/sunnah-audio/internal/middleware"
	"github.com/iliyamo/sunnah-audio/internal/model"
	"github.com/iliyamo/sunnah-audio/internal/service"
)

// Store calls made on behalf of a request get this long before their
// context is cancelled.  Uploads copy the body to disk first and flows
// that send mail wait on SMTP, so both get more.
const (
	storeTimeout  = 5 * time.Second
	mailTimeout   = 15 * time.Second
	uploadTimeout = 2 * time.Minute
)

// envelope is the body of every successful JSON response.  data is always
// present, null when there is nothing to return.
type envelope struct {
	Success    bool        `json:"success"`
	Data       interface{} `json:"data"`
	Message    string      `json:"message"`
	Pagination *pagination `json:"pagination,omitempty"`
}

// failure is the body of every error response.
type failure struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func ok(c echo.Context, data interface{}, msg string) error {
	return c.JSON(http.StatusOK, envelope{Success: true, Data: data, Message: msg})
}

func created(c echo.Context, data interface{}, msg string) error {
	return c.JSON(http.StatusCreated, envelope{Success: true, Data: data, Message: msg})
}

func paged(c echo.Context, data interface{}, p service.Page, total int) error {
	pages := 0
	if p.Limit > 0 {
		pages = (total + p.Limit - 1) / p.Limit
	}
	return c.JSON(http.StatusOK, envelope{
		Success:    true,
		Data:       data,
		Pagination: &pagination{Page: p.Page, Limit: p.Limit, Total: total, TotalPages: pages},
	})
}

// storeContext bounds the store calls of one request.
func storeContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), storeTimeout)
}

// caller returns the identity resolved by IdentityGateway.Require.
func caller(c echo.Context) (model.Identity, error) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return model.Identity{}, apperr.Unauthorized(middleware.MsgUnauthenticated)
	}
	return id, nil
}

func pathID(c echo.Context, name, label string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Validation("Invalid " + label + " id")
	}
	return id, nil
}

// pageFrom reads ?page= and ?limit=; junk values fall back to defaults.
func pageFrom(c echo.Context) service.Page {
	p, _ := strconv.Atoi(c.QueryParam("page"))
	l, _ := strconv.Atoi(c.QueryParam("limit"))
	return service.Page{Page: p, Limit: l}.Normalize()
}

func bind(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return apperr.Validation("Invalid request body")
	}
	return nil
}
