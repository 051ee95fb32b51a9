package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/models"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"bitbucket.org/grupoalimenta/produccion_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// respondError maps error kinds onto HTTP statuses in one place so
// handlers stay thin.
func respondError(c *gin.Context, err error) {
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		body := gin.H{"error": appErr.Message}
		switch appErr.Kind {
		case utils.KindValidation:
			if len(appErr.Fields) > 0 {
				body["fields"] = appErr.Fields
			}
			c.JSON(http.StatusBadRequest, body)
		case utils.KindNotFound:
			c.JSON(http.StatusNotFound, body)
		case utils.KindPreconditionFailed:
			body["current_state"] = appErr.CurrentState
			body["attempted_state"] = appErr.AttemptedState
			c.JSON(http.StatusConflict, body)
		case utils.KindCapacityOverload:
			body["line"] = appErr.Line
			body["date"] = appErr.Date.Format("2006-01-02")
			body["missing_minutes"] = appErr.MissingMinutes
			c.JSON(http.StatusConflict, body)
		case utils.KindReservationConflict:
			c.JSON(http.StatusConflict, body)
		case utils.KindStockShortage:
			c.JSON(http.StatusConflict, body)
		default:
			c.JSON(http.StatusInternalServerError, body)
		}
		return
	}
	if errors.Is(err, utils.ErrorRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func createProductionOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewProductionOrder
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "fields": utils.ProcessValidationErrors(err)})
			return
		}
		po, err := models.CreateProductionOrder(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, po)
	}
}

func getProductionOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		po, err := models.GetProductionOrder(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, po)
	}
}

type approveRequest struct {
	Line      int       `json:"line" binding:"required"`
	StartDate time.Time `json:"start_date" binding:"required"`
}

func approveProductionOrderHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req approveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "fields": utils.ProcessValidationErrors(err)})
			return
		}
		result, err := workflow.ApproveProductionOrder(c.Request.Context(), logger, id, req.Line, req.StartDate)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func cancelProductionOrderHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		po, err := workflow.CancelProductionOrder(c.Request.Context(), logger, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, po)
	}
}

func markReadyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		if err := workflow.MarkApprovedReady(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func completeProductionOrderHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		lot, err := workflow.CompleteProductionOrder(c.Request.Context(), logger, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, lot)
	}
}

type planRequest struct {
	PoIds     []int     `json:"po_ids" binding:"required"`
	Line      int       `json:"line" binding:"required"`
	StartDate time.Time `json:"start_date" binding:"required"`
}

func planHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req planRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "fields": utils.ProcessValidationErrors(err)})
			return
		}
		outcome, err := workflow.ConsolidateAndApprove(c.Request.Context(), logger, req.PoIds,
			workflow.PlanAssignment{Line: req.Line, StartDate: req.StartDate})
		if err != nil {
			respondError(c, err)
			return
		}
		status := http.StatusOK
		if outcome.MultiDayConfirm {
			// the client must confirm before anything commits
			status = http.StatusAccepted
		}
		c.JSON(status, outcome)
	}
}

func confirmPlanHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req approveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "fields": utils.ProcessValidationErrors(err)})
			return
		}
		result, err := workflow.ConfirmApproval(c.Request.Context(), logger, id,
			workflow.PlanAssignment{Line: req.Line, StartDate: req.StartDate})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func runAutoPlanHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		horizon := 7
		if raw := c.Query("horizon_days"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				horizon = n
			}
		}
		summary, err := workflow.RunAutoPlan(c.Request.Context(), logger, horizon)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func startProductionHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		po, err := workflow.StartProduction(c.Request.Context(), logger, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, po)
	}
}

type pauseRequest struct {
	MotiveId int `json:"motive_id" binding:"required"`
}

func pauseProductionHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req pauseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "fields": utils.ProcessValidationErrors(err)})
			return
		}
		if err := workflow.PauseProduction(c.Request.Context(), logger, id, req.MotiveId); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func resumeProductionHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		if err := workflow.ResumeProduction(c.Request.Context(), logger, id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func reportProgressHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var report workflow.ProgressReport
		if err := c.ShouldBindJSON(&report); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "fields": utils.ProcessValidationErrors(err)})
			return
		}
		po, err := workflow.ReportProgress(c.Request.Context(), logger, id, report)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, po)
	}
}

func kanbanStatusHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		status, err := workflow.KanbanStatusForOrder(c.Request.Context(), logger, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func purchaseTransitionHandler(action func(*gin.Context, int) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		if err := action(c, id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type receiveRequest struct {
	Lines []workflow.ReceiptLine `json:"lines" binding:"required"`
}

func receivePurchaseOrderHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req receiveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "fields": utils.ProcessValidationErrors(err)})
			return
		}
		oc, err := workflow.ReceivePurchaseOrder(c.Request.Context(), logger, id, req.Lines)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, oc)
	}
}

func closePurchaseOrderHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		oc, err := workflow.ClosePurchaseOrder(c.Request.Context(), logger, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, oc)
	}
}

func getPurchaseOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		oc, err := models.GetPurchaseOrder(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, oc)
	}
}

func recordLotWasteHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input workflow.LotWasteInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "fields": utils.ProcessValidationErrors(err)})
			return
		}
		record, err := workflow.RecordLotWaste(c.Request.Context(), logger, input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, record)
	}
}

func recomputeStockHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		changed, err := workflow.RecomputeAggregateStock(c.Request.Context(), logger)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"updated_insumos": changed})
	}
}

func releaseFinishedLotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		if err := workflow.ReleaseFinishedLot(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func rejectFinishedLotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		if err := workflow.RejectFinishedLot(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func traceLotForwardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		trace, err := workflow.TraceLotForward(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, trace)
	}
}

func traceLotBackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		trace, err := workflow.TraceLotBack(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, trace)
	}
}

func createSalesOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var so models.SalesOrder
		if err := c.ShouldBindJSON(&so); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "fields": utils.ProcessValidationErrors(err)})
			return
		}
		if err := models.CreateSalesOrder(c.Request.Context(), &so); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, so)
	}
}

func createRecipeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewRecipe
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "fields": utils.ProcessValidationErrors(err)})
			return
		}
		recipe, err := models.CreateRecipe(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, recipe)
	}
}

// wastePhotoUploadHandler returns a signed URL the floor tablet uploads the
// photo to; only the resulting object URL is stored with the waste record.
func wastePhotoUploadHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		contentType := c.Query("content_type")
		if contentType == "" {
			contentType = "image/jpeg"
		}
		objectKey := "waste-photos/" + utils.GenerateUniqueFilename()
		signed, err := utils.SignUpload(c.Request.Context(), objectKey, contentType, 15*time.Minute)
		if err != nil {
			config.LogError(logger, "handlers.go", "wastePhotoUploadHandler", "SignUpload", objectKey, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, signed)
	}
}

func reprocessEventHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		db := config.GetDB()
		if err := models.ReprocessDeadEvent(db.WithContext(c.Request.Context()), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
