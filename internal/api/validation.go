package api

import (
	"github.com/biobank/shipment-lifecycle/internal/domain"
	"github.com/go-playground/validator/v10"
)

func validateShipmentState(fl validator.FieldLevel) bool {
	return domain.ShipmentState(fl.Field().String()).IsValid()
}

func validateItemState(fl validator.FieldLevel) bool {
	return domain.ItemState(fl.Field().String()).IsValid()
}

func validateTransition(fl validator.FieldLevel) bool {
	return domain.Transition(fl.Field().String()).IsValid()
}

var validations = map[string]validator.Func{
	"shipmentstate": validateShipmentState,
	"itemstate":     validateItemState,
	"transition":    validateTransition,
}
