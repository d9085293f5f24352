package services

import (
	"errors"

	"gorm.io/gorm"

	apperrors "github.com/charlesng35/tabletop/pkg/errors"
)

// notFound maps a missing record to the application not-found error and wraps anything
// else with the operation name.
func notFound(err error, entity, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrNotFound.WithMessage(entity + " " + id + " not found")
	}
	return apperrors.Wrap(err, "load "+entity)
}
