package handler

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"authservice/internal/service"
)

var registerValidatorsOnce sync.Once

// RegisterValidators installs the custom rules on gin's validator and makes
// error fields report their JSON names. Safe to call more than once.
func RegisterValidators() {
	registerValidatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(jsonFieldName)
		// Registration only fails on an empty tag.
		_ = v.RegisterValidation("password", strongPassword)
	})
}

func jsonFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

// strongPassword requires at least one uppercase letter and one digit.
func strongPassword(fl validator.FieldLevel) bool {
	return hasUpper(fl.Field().String()) && hasDigit(fl.Field().String())
}

func hasUpper(s string) bool { return strings.IndexFunc(s, unicode.IsUpper) >= 0 }
func hasDigit(s string) bool { return strings.IndexFunc(s, unicode.IsDigit) >= 0 }

type ValidationErrorDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func formatValidationErrors(errs validator.ValidationErrors) []ValidationErrorDetail {
	details := make([]ValidationErrorDetail, 0, len(errs))
	for _, err := range errs {
		var message string
		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", err.Field())
		case "email":
			message = fmt.Sprintf("%s must be a valid email address", err.Field())
		case "min":
			if err.Field() == "password" {
				message = "Password must be at least 8 characters long"
			} else {
				message = fmt.Sprintf("%s must be at least %s characters long", err.Field(), err.Param())
			}
		case "password":
			if !hasUpper(fmt.Sprint(err.Value())) {
				message = "Password must contain at least one uppercase letter"
			} else {
				message = "Password must contain at least one number"
			}
		case "eqfield":
			message = "Passwords do not match"
		case "oneof":
			message = fmt.Sprintf("%s must be one of [%s]", err.Field(), err.Param())
		default:
			message = fmt.Sprintf("%s failed on the '%s' rule", err.Field(), err.Tag())
		}
		details = append(details, ValidationErrorDetail{Field: err.Field(), Message: message})
	}
	return details
}

// respondBindError answers a request whose body failed to bind.
func respondBindError(c *gin.Context, log *logrus.Logger, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Validation failed",
			"errors":  formatValidationErrors(verrs),
		})
		return
	}

	log.Debugf("Failed to bind JSON: %v", err)
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
}

// respondError writes a service failure. Internal causes are logged and
// never returned to the client.
func respondError(c *gin.Context, log *logrus.Logger, err error) {
	var svcErr *service.Error
	if !errors.As(err, &svcErr) || svcErr.Kind == service.KindInternal {
		log.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(svcErr.Kind.HTTPStatus(), gin.H{"error": svcErr.Message})
}
