package utils

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

const maxPageSize = 200

// Pagination holds pagination parameters.
type Pagination struct {
	Page   int
	Limit  int
	Offset int
}

// ParsePagination reads page and limit query params. The second return value is false
// when the caller asked for neither, meaning the full result set.
func ParsePagination(c *fiber.Ctx) (Pagination, bool) {
	if c.Query("page") == "" && c.Query("limit") == "" {
		return Pagination{}, false
	}

	page := parseInt(c.Query("page", "1"), 1)
	limit := parseInt(c.Query("limit", "20"), 20)
	if limit <= 0 {
		limit = 20
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if page <= 0 {
		page = 1
	}

	return Pagination{
		Page:   page,
		Limit:  limit,
		Offset: (page - 1) * limit,
	}, true
}

func parseInt(value string, fallback int) int {
	if parsed, err := strconv.Atoi(value); err == nil {
		return parsed
	}
	return fallback
}
