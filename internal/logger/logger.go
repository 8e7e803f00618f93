package logger

import (
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CorrelationIDHeader is echoed back on every response so log lines can be
// matched to a request.
const CorrelationIDHeader = "X-Correlation-ID"

const correlationContextKey = "cloudhostCorrelationID"

// Init builds the application logger. LOG_LEVEL selects the minimum level
// (debug, info, warn, error); production JSON encoding otherwise.
func Init() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(levelFromEnv())
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

func levelFromEnv() zapcore.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Middleware attaches a correlation identifier to each request, reusing the
// caller-supplied header when present.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(correlationContextKey, id)
		c.Header(CorrelationIDHeader, id)
		c.Next()
	}
}

// CorrelationID extracts the request's correlation identifier.
func CorrelationID(c *gin.Context) string {
	if v, ok := c.Get(correlationContextKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
