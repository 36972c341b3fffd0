package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"attendtrack/internal/auth"
)

// RegisterRoutes mounts every endpoint on r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	authn := auth.Authenticate(h.cfg.SigningKey, h.cfg.Issuer)
	admin := auth.RequireRole(auth.RoleAdmin)

	a := api.Group("/auth")
	a.POST("/signup", h.Signup)
	a.POST("/login", h.Login)
	a.GET("/me", authn, h.Me)
	a.PUT("/password", authn, h.ChangePassword)
	a.POST("/register", authn, admin, h.RegisterUser)

	u := api.Group("/users", authn)
	u.GET("", admin, h.ListUsers)
	u.GET("/stats", admin, h.UserStats)
	u.GET("/:id", h.GetUser)
	u.PUT("/:id", h.UpdateUser)
	u.DELETE("/:id", admin, h.DeleteUser)

	at := api.Group("/attendance", authn)
	at.POST("/mark", admin, h.Mark)
	at.POST("/recognize", admin, h.Recognize)
	at.POST("/mark-absent", admin, h.MarkAbsent)
	at.GET("/absent-today", admin, h.AbsentToday)
	at.GET("/today", admin, h.Today)
	at.GET("/my-today", h.MyToday)
	at.GET("/history/:userId", h.History)
	at.GET("/report", admin, h.Report)
	at.GET("/stats", admin, h.Stats)
}
