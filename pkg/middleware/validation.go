package middleware

import (
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/biobank/shipment-lifecycle/pkg/errors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

var (
	entityIDRegex       = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)
	trackingNumberRegex = regexp.MustCompile(`^[A-Za-z0-9-]{4,40}$`)
)

var builtinValidations = map[string]validator.Func{
	"entity_id":       validateEntityID,
	"tracking_number": validateTrackingNumber,
}

func jsonTagName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return fld.Name
	}
	return name
}

func engines() []*validator.Validate {
	out := []*validator.Validate{validate}
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok && v != validate {
		out = append(out, v)
	}
	return out
}

// InitValidator initialises the shared validator and gin's binding
// validator with the built-in tags and JSON field names
func InitValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		for _, v := range engines() {
			for tag, fn := range builtinValidations {
				_ = v.RegisterValidation(tag, fn)
			}
			v.RegisterTagNameFunc(jsonTagName)
		}
	})
	return validate
}

// RegisterValidation adds a custom tag to both validators
func RegisterValidation(tag string, fn validator.Func) error {
	InitValidator()
	for _, v := range engines() {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}
	return nil
}

func validateEntityID(fl validator.FieldLevel) bool {
	return entityIDRegex.MatchString(fl.Field().String())
}

func validateTrackingNumber(fl validator.FieldLevel) bool {
	return trackingNumberRegex.MatchString(fl.Field().String())
}

// ValidationErrorFormatter formats validation errors into a field map
func ValidationErrorFormatter(err error) map[string]string {
	fields := make(map[string]string)

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrors {
			fields[e.Field()] = formatValidationError(e)
		}
	}

	return fields
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "entity_id":
		return "must be an identifier of letters, digits, dashes or underscores"
	case "tracking_number":
		return "must be a valid tracking number (4-40 characters)"
	case "shipmentstate":
		return "must be one of: CREATED, PACKED, SENT, RECEIVED, UNPACKED, COMPLETED, LOST"
	case "itemstate":
		return "must be one of: PRESENT, RECEIVED, MISSING, EXTRA"
	case "transition":
		return "must be a known shipment transition"
	case "oneof":
		return "must be one of: " + e.Param()
	default:
		return "is invalid"
	}
}

// BindAndValidate binds the JSON request body and validates it
func BindAndValidate(c *gin.Context, obj interface{}) *errors.AppError {
	if err := c.ShouldBindJSON(obj); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			return errors.ErrValidationWithFields("validation failed", ValidationErrorFormatter(validationErrors))
		}
		return errors.ErrBadRequest("invalid request body: " + err.Error())
	}
	return nil
}

// SanitizeString removes null bytes and surrounding whitespace
func SanitizeString(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}

// InputSanitizer middleware sanitizes query parameters
func InputSanitizer() gin.HandlerFunc {
	return func(c *gin.Context) {
		query := c.Request.URL.Query()
		for key, values := range query {
			for i, v := range values {
				values[i] = SanitizeString(v)
			}
			query[key] = values
		}
		c.Request.URL.RawQuery = query.Encode()

		c.Next()
	}
}

// ContentType middleware requires JSON bodies on POST and PUT
func ContentType() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == "POST" || c.Request.Method == "PUT" {
			contentType := c.GetHeader("Content-Type")
			if !strings.HasPrefix(contentType, "application/json") && c.Request.ContentLength > 0 {
				AbortWithAppError(c, errors.NewAppError("INVALID_CONTENT_TYPE", "Content-Type must be application/json", 415))
				return
			}
		}
		c.Next()
	}
}
