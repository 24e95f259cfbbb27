package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"procurehub/pkg/otel"
	"procurehub/pkg/trace"
)

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	requestHandler *RequestHandler,
	comparisonHandler *ComparisonHandler,
	proposalHandler *ProposalHandler,
	responderHandler *ResponderHandler,
	inboundHandler *InboundHandler,
) *Router {
	r := gin.Default()
	r.Use(traceMiddleware())
	r.Use(otel.GinMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Buyer-facing workflow
	r.POST("/requests", requestHandler.CreateRequest)
	r.GET("/requests/:id", requestHandler.GetRequest)
	r.POST("/requests/:id/dispatch", requestHandler.DispatchRequest)
	r.POST("/requests/:id/close", requestHandler.CloseRequest)
	r.GET("/requests/:id/comparison", comparisonHandler.GetComparison)
	r.GET("/requests/:id/proposals", proposalHandler.ListByRequest)
	r.POST("/proposals/:id/review", proposalHandler.MarkReviewed)

	// Vendor directory
	r.POST("/responders", responderHandler.CreateResponder)
	r.GET("/responders", responderHandler.ListResponders)

	// Mail provider webhook
	r.POST("/inbound/email", inboundHandler.ReceiveEmail)

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}

// traceMiddleware accepts an incoming trace id or mints one, so webhook
// deliveries can be followed from the 200 into the worker.
func traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(trace.HeaderName())
		if traceID == "" {
			traceID = trace.GenerateTraceID()
		}
		c.Request = c.Request.WithContext(trace.WithContext(c.Request.Context(), traceID))
		c.Writer.Header().Set(trace.HeaderName(), traceID)
		c.Next()
	}
}
