package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"virtual-office/internal/domain"
	"virtual-office/pkg/logger"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their wire names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// bindJSON decodes and validates the request body. It writes the 400 itself
// and reports whether the handler may continue.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return false
	}
	return checkStruct(c, dst)
}

func bindQuery(c *gin.Context, dst any) bool {
	if err := c.ShouldBindQuery(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return false
	}
	return checkStruct(c, dst)
}

func checkStruct(c *gin.Context, dst any) bool {
	err := validate.Struct(dst)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": fields})
	return false
}

// writeError maps domain errors to status codes. External failures are
// marked dismissible: the dashboard shows them as a notice and keeps the
// previous data.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)

	var pe *domain.PartialFailureError
	if errors.As(err, &pe) {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":     "operation partially applied",
			"kind":      domain.KindPartial,
			"ref":       pe.Ref,
			"completed": pe.Completed,
			"pending":   pe.Pending,
		})
		return
	}

	kind := domain.KindOf(err)
	msg := publicMessage(err)
	switch kind {
	case domain.KindValidation:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "kind": kind})
	case domain.KindNotFound:
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": msg, "kind": kind})
	case domain.KindInvalidState, domain.KindConflict:
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": msg, "kind": kind})
	case domain.KindExternal:
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
			"error":       "upstream service unavailable, try again",
			"kind":        kind,
			"dismissible": true,
		})
	default:
		logger.FromGin(c).Error("unhandled error", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func publicMessage(err error) string {
	var de *domain.Error
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return "request failed"
}
