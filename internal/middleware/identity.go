package middleware

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"
)

// ErrNoUser is returned by UserID when the request carries no usable user.
var ErrNoUser = errors.New("invalid user_id in context")

// UserID returns the authenticated user stored by JWTAuth.  JSON numbers
// decode as float64, so every numeric form is accepted along with decimal
// strings.
func UserID(c echo.Context) (uint64, error) {
	switch t := c.Get("user_id").(type) {
	case uint64:
		return t, nil
	case int:
		if t > 0 {
			return uint64(t), nil
		}
	case int64:
		if t > 0 {
			return uint64(t), nil
		}
	case float64:
		if t > 0 && t == float64(uint64(t)) {
			return uint64(t), nil
		}
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil && n > 0 {
			return n, nil
		}
	}
	return 0, ErrNoUser
}
