package handler

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sunnah-audio/internal/service"
)

// BookHandler serves /api/v1/books.
type BookHandler struct {
	content Content
}

func NewBookHandler(content Content) *BookHandler {
	return &BookHandler{content: content}
}

type createBookReq struct {
	ScholarID uint64  `json:"scholar_id"`
	Name      string  `json:"name"`
	About     *string `json:"about"`
	Image     *string `json:"image"`
}

type updateBookReq struct {
	ScholarID *uint64 `json:"scholar_id"`
	Name      *string `json:"name"`
	About     *string `json:"about"`
	Image     *string `json:"image"`
}

func (h *BookHandler) Create(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	var req createBookReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := storeContext(c)
	defer cancel()
	b, err := h.content.CreateBook(ctx, id, service.BookInput{
		ScholarID: req.ScholarID,
		Name:      req.Name,
		About:     req.About,
		Image:     req.Image,
	})
	if err != nil {
		return err
	}
	return created(c, b, "Book created successfully")
}

// Update edits a book; a new scholar_id moves it and its files.
func (h *BookHandler) Update(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	bookID, err := pathID(c, "id", "book")
	if err != nil {
		return err
	}
	var req updateBookReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := storeContext(c)
	defer cancel()
	b, err := h.content.UpdateBook(ctx, id, bookID, service.BookUpdate{
		ScholarID: req.ScholarID,
		Name:      req.Name,
		About:     req.About,
		Image:     req.Image,
	})
	if err != nil {
		return err
	}
	return ok(c, b, "Book updated successfully")
}
