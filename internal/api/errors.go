package api

import (
	"github.com/biobank/shipment-lifecycle/internal/domain"
	"github.com/biobank/shipment-lifecycle/pkg/errors"
)

// mapLifecycleError renders lifecycle errors with the status codes clients
// classify them by. The messages keep the phrases clients recognise.
func mapLifecycleError(err error) *errors.AppError {
	le, ok := domain.AsLifecycleError(err)
	if !ok {
		return nil
	}

	var appErr *errors.AppError
	switch le.Kind {
	case domain.KindVersionConflict:
		appErr = errors.ErrVersionConflict(le.Message)
	case domain.KindTimeOrder:
		appErr = errors.ErrTimeOrder(le.Message).WithDetail("violation", string(le.TimeOrder))
	case domain.KindBusinessRule:
		appErr = errors.ErrBusinessRule(le.Message)
	case domain.KindNotFound:
		appErr = errors.ErrNotFound("shipment")
	default:
		return errors.ErrInternal("").Wrap(err)
	}

	if le.ShipmentID != "" {
		appErr = appErr.WithDetail("shipmentId", le.ShipmentID)
	}
	return appErr.Wrap(err)
}
