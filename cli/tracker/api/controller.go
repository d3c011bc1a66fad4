package api

import (
	"github.com/gin-gonic/gin"

	"github.com/towfleet/tracking/cli/tracker/broadcast"
)

type Controller struct {
	Handler *Handler
	router  *gin.Engine
}

func NewController(handler *Handler, hub *broadcast.Hub) *Controller {
	router := gin.Default()

	vehicles := router.Group("/vehicles")
	{
		vehicles.GET(":vehicle_id/location", handler.GetLastLocation)
		vehicles.GET(":vehicle_id/history", handler.GetHistory)
	}

	tracking := router.Group("/tracking")
	{
		tracking.POST("location", handler.UpdateLocation)
		tracking.GET("active-count", handler.GetActiveVehicleCount)
	}

	if hub != nil {
		router.GET("/ws", gin.WrapF(hub.HandleWS))
	}

	return &Controller{Handler: handler, router: router}
}

func (c *Controller) Run(addr string) error {
	return c.router.Run(addr)
}
