package controllers

import (
	"github.com/gin-gonic/gin"

	"ClinicQueue/handlers"
)

// QueueHandlers groups the handlers mounted under /api.
type QueueHandlers struct {
	Bookings *handlers.BookingHandler
	Days     *handlers.DayHandler
	Archives *handlers.ArchiveHandler
	Payments *handlers.PaymentHandler
}

// SetupQueueRoutes registers the booking, archive and ledger routes on api.
// streamAdmission wraps only the day read, which may turn into a stream.
func SetupQueueRoutes(api *gin.RouterGroup, h QueueHandlers, streamAdmission gin.HandlerFunc) {
	api.POST("/days", h.Bookings.OpenDay)
	api.GET("/days", h.Bookings.ListDays)
	api.GET("/days/:clinic_id/:date", streamAdmission, h.Days.GetDay)
	api.POST("/days/close", h.Bookings.CloseDay)

	api.POST("/bookings", h.Bookings.Book)
	api.POST("/bookings/status", h.Bookings.ChangeStatus)

	api.GET("/archives/:clinic_id", h.Archives.ListArchives)
	api.POST("/archives", h.Archives.ArchiveDay)
	api.POST("/archives/run", h.Archives.RunArchival)

	golden := api.Group("/golden/payments")
	golden.POST("", h.Payments.RecordPayment)
	golden.GET("/monthly", h.Payments.MonthlyReport)
	golden.GET("/annual", h.Payments.AnnualReport)
	golden.POST("/status", h.Payments.UpdateStatus)
	golden.GET("/all", h.Payments.AllClinics)
}
