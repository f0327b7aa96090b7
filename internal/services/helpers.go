package services

import (
	"strings"

	"github.com/charlesng35/teamshot/pkg/validator"
)

func normaliseEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func validEmail(value string) bool {
	return validator.IsEmail(value)
}
