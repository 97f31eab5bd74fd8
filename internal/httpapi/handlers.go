package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/muffinbran/pitch-tendency-analyzer/internal/db"
	"github.com/muffinbran/pitch-tendency-analyzer/internal/tendency"
)

// HealthCheck reports that the server is up.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SubmitSession stores one posted session.
func SubmitSession(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var p tendency.SessionPayload
		if err := c.ShouldBindJSON(&p); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
			return
		}

		ack, err := svc.Submit(c.Request.Context(), p)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, ack)
	}
}

// GetTendencies returns the tendency summary, optionally for one
// instrument_id.
func GetTendencies(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := db.AllInstruments()
		if raw, ok := c.GetQuery("instrument_id"); ok {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "instrument_id must be an integer"})
				return
			}
			filter = db.ForInstrument(id)
		}

		rows, err := svc.Tendencies(c.Request.Context(), filter)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

// ListInstruments returns every instrument with stored sessions.
func ListInstruments(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		instruments, err := svc.Instruments(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		if instruments == nil {
			instruments = []tendency.Instrument{}
		}
		c.JSON(http.StatusOK, instruments)
	}
}

// DeleteSession removes a stored session and its notes.
func DeleteSession(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		if err := svc.DeleteSession(c.Request.Context(), id); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "session_id": id})
	}
}

// writeError maps service error kinds onto status codes.
func writeError(c *gin.Context, err error) {
	var ve *tendency.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": ve.Field})
	case errors.Is(err, tendency.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, tendency.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
