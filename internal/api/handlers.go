package api

import (
	"net/http"
	"strconv"

	"github.com/biobank/shipment-lifecycle/internal/application"
	"github.com/biobank/shipment-lifecycle/internal/domain"
	"github.com/biobank/shipment-lifecycle/pkg/api"
	"github.com/biobank/shipment-lifecycle/pkg/logging"
	"github.com/biobank/shipment-lifecycle/pkg/middleware"
	"github.com/biobank/shipment-lifecycle/pkg/tracing"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// traceShipment tags the request span with the shipment state the request
// left behind
func traceShipment(c *gin.Context, shipment *application.ShipmentDTO) {
	trace.SpanFromContext(c.Request.Context()).SetAttributes(
		tracing.ShipmentSpanAttributes(shipment.ShipmentID, shipment.State, shipment.Version)...,
	)
}

func createShipmentHandler(service *application.ShipmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var req createShipmentRequest
		if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		shipment, err := service.CreateShipment(c.Request.Context(), application.CreateShipmentCommand{
			CourierName:    req.CourierName,
			TrackingNumber: req.TrackingNumber,
			Origin:         req.Origin.toDomain(),
			Destination:    req.Destination.toDomain(),
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}

		traceShipment(c, shipment)
		c.JSON(http.StatusCreated, shipment)
	}
}

func listShipmentsHandler(service *application.ShipmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		state := domain.ShipmentState(c.Query("state"))
		if state != "" && !state.IsValid() {
			responder.RespondValidationError("invalid query", map[string]string{
				"state": "must be one of: CREATED, PACKED, SENT, RECEIVED, UNPACKED, COMPLETED, LOST",
			})
			return
		}

		page, err := service.ListShipments(c.Request.Context(), application.ListShipmentsQuery{
			Filter: domain.ShipmentFilter{
				State:         state,
				CourierName:   c.Query("courierName"),
				OriginID:      c.Query("originLocationId"),
				DestinationID: c.Query("destinationLocationId"),
			},
			Page: api.ParsePagination(c),
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}

		c.JSON(http.StatusOK, page)
	}
}

func getShipmentHandler(service *application.ShipmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		query := application.GetShipmentQuery{ShipmentID: c.Param("id")}
		middleware.AddSpanAttributes(c, map[string]interface{}{"shipment.id": query.ShipmentID})

		shipment, err := service.GetShipment(c.Request.Context(), query)
		if err != nil {
			responder.RespondWithError(err)
			return
		}

		traceShipment(c, shipment)
		c.JSON(http.StatusOK, shipment)
	}
}

func updateShipmentInfoHandler(service *application.ShipmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var req updateShipmentInfoRequest
		if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		shipment, err := service.UpdateShipmentInfo(c.Request.Context(), application.UpdateShipmentInfoCommand{
			ShipmentID:      c.Param("id"),
			ExpectedVersion: *req.ExpectedVersion,
			CourierName:     req.CourierName,
			TrackingNumber:  req.TrackingNumber,
			Origin:          req.Origin.toDomain(),
			Destination:     req.Destination.toDomain(),
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}

		traceShipment(c, shipment)
		c.JSON(http.StatusOK, shipment)
	}
}

func transitionHandler(service *application.ShipmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var req transitionRequest
		if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		middleware.AddSpanAttributes(c, map[string]interface{}{
			"shipment.id":         c.Param("id"),
			"shipment.transition": req.Transition,
			"shipment.version":    *req.ExpectedVersion,
		})

		shipment, err := service.Transition(c.Request.Context(), application.TransitionCommand{
			ShipmentID:      c.Param("id"),
			ExpectedVersion: *req.ExpectedVersion,
			Transition:      domain.Transition(req.Transition),
			Times:           req.Times,
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}

		traceShipment(c, shipment)
		c.JSON(http.StatusOK, shipment)
	}
}

func removeShipmentHandler(service *application.ShipmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		version, err := strconv.ParseInt(c.Param("version"), 10, 64)
		if err != nil || version < 0 {
			responder.RespondBadRequest("version must be a non-negative integer")
			return
		}

		if err := service.RemoveShipment(c.Request.Context(), application.RemoveShipmentCommand{
			ShipmentID:      c.Param("id"),
			ExpectedVersion: version,
		}); err != nil {
			responder.RespondWithError(err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

func listSpecimensHandler(service *application.ShipmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		page, err := service.ListSpecimens(c.Request.Context(), application.ListSpecimensQuery{
			ShipmentID: c.Param("id"),
			State:      domain.ItemState(c.Query("state")),
			Page:       api.ParsePagination(c),
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}

		c.JSON(http.StatusOK, page)
	}
}

func addSpecimensHandler(service *application.ShipmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var req addSpecimensRequest
		if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		shipment, err := service.AddSpecimens(c.Request.Context(), application.AddSpecimensCommand{
			ShipmentID:      c.Param("id"),
			ExpectedVersion: *req.ExpectedVersion,
			SpecimenIDs:     req.SpecimenIDs,
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}

		traceShipment(c, shipment)
		c.JSON(http.StatusOK, shipment)
	}
}

func removeSpecimenHandler(service *application.ShipmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		shipment, err := service.RemoveSpecimen(c.Request.Context(), application.RemoveSpecimenCommand{
			ShipmentID:         c.Param("id"),
			ShipmentSpecimenID: c.Param("shipmentSpecimenId"),
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}

		traceShipment(c, shipment)
		c.JSON(http.StatusOK, shipment)
	}
}

func tagSpecimensHandler(service *application.ShipmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var req tagSpecimensRequest
		if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		items, err := service.TagSpecimens(c.Request.Context(), application.TagSpecimensCommand{
			ShipmentID:          c.Param("id"),
			ShipmentSpecimenIDs: req.ShipmentSpecimenIDs,
			State:               domain.ItemState(req.State),
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}

		c.JSON(http.StatusOK, items)
	}
}

func addExtraSpecimensHandler(service *application.ShipmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var req addExtraSpecimensRequest
		if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		shipment, err := service.AddExtraSpecimens(c.Request.Context(), application.AddExtraSpecimensCommand{
			ShipmentID:  c.Param("id"),
			SpecimenIDs: req.SpecimenIDs,
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}

		traceShipment(c, shipment)
		c.JSON(http.StatusOK, shipment)
	}
}
