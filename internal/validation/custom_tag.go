package validation

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var roomIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

func init() {
	MustRegisterGin("roomid", ValidateRoomID)
	MustRegisterGinAlias("role", "oneof=bot candidate recruiter observer")
}

// ValidateRoomID validates room ID format: 3-32 characters, alphanumeric with hyphens and underscores
func ValidateRoomID(fl validator.FieldLevel) bool {
	return roomIDRegex.MatchString(fl.Field().String())
}
