package httpapi

import (
	"github.com/gin-gonic/gin"

	"virtual-office/internal/rbac"
)

// Register mounts the public auth endpoints and the bearer-protected /v1
// group. Health and metrics are mounted by the binary.
func Register(r gin.IRouter, h Handlers, authMW gin.HandlerFunc) {
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/callback", h.AuthCallback)
		authGroup.POST("/refresh", h.RefreshToken)
	}

	v1 := r.Group("/v1")
	v1.Use(authMW, rbac.RequireIdentity())
	{
		v1.GET("/me", h.Me)

		v1.GET("/dashboard", h.Dashboard)
		v1.POST("/dashboard/refresh", h.RefreshDashboard)

		v1.GET("/leads", h.ListLeads)
		v1.GET("/leads/:card_id", h.GetLead)
		v1.GET("/leads/:card_id/reminders", h.ListReminders)
		v1.POST("/leads/:card_id/reminders", h.ScheduleReminder)
		v1.POST("/leads/:card_id/repair", h.RepairLead)
		v1.GET("/leads/:card_id/comments", h.ListComments)
		v1.POST("/leads/:card_id/comments", h.AddComment)
		v1.POST("/leads/:card_id/summary", h.Summarize)
		v1.GET("/leads/:card_id/booking", h.Booking)
		v1.POST("/reminders/:id/cancel", h.CancelReminder)

		v1.GET("/stats", h.GetStats)
		v1.GET("/pitches", h.Pitches)

		viewAll := v1.Group("")
		viewAll.Use(rbac.RequireViewAll())
		{
			viewAll.GET("/agents", h.ListAgents)
		}

		admin := v1.Group("/admin")
		admin.Use(rbac.RequireViewAll(), rbac.RequireAnyRole(rbac.RoleSupervisor))
		{
			admin.POST("/sweep", h.Sweep)
		}
	}
}
