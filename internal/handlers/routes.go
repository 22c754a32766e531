package handlers

import "github.com/gin-gonic/gin"

// NewRouter builds the HTTP surface around h.
func NewRouter(h *ValidationHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.Use(corsMiddleware())

	r.GET("/", h.Root)
	r.GET("/healthz", h.Health)
	r.GET("/validate_ine_playwright", h.ValidateINE)
	r.GET("/validate_curp_playwright", h.ValidateCURP)
	return r
}
