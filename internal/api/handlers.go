package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/attunestack/attune-pipeline/internal/metrics"
	"github.com/attunestack/attune-pipeline/internal/models"
	"github.com/attunestack/attune-pipeline/internal/reward"
	"github.com/attunestack/attune-pipeline/internal/services"
	"github.com/attunestack/attune-pipeline/internal/utils"
)

func registerRoutes(router *gin.Engine, service *services.PipelineService) {
	router.GET("/healthz", handleHealth)

	v1 := router.Group("/api/v1")
	v1.Use(requestTimer(service))
	{
		v1.POST("/anonymize", handleAnonymize(service))
		v1.POST("/anonymize/batch", handleBatchAnonymize(service))
		v1.POST("/synthesize", handleSynthesize(service))
		v1.POST("/synthesize/pulse", handlePulseSequence(service))
		v1.POST("/synthesize/trajectory", handleEmotionTrajectory(service))
		v1.POST("/reward", handleReward(service))
		v1.POST("/reward/batch", handleBatchReward(service))
		v1.PUT("/reward/weights", handleRewardWeights(service))
		v1.POST("/reward/evaluate", handleRewardEvaluate(service))

		modelsGroup := v1.Group("/models")
		{
			modelsGroup.POST("/train", handleTrain(service))
			modelsGroup.POST("/train/telemetry", handleTrainFromTelemetry(service))
			modelsGroup.GET("/deployed", handleDeployed(service))
			modelsGroup.GET("/active", handleActive(service))
			modelsGroup.POST("/:id/evaluate", handleEvaluate(service))
			modelsGroup.POST("/:id/deploy", handleDeploy(service))
			modelsGroup.POST("/:id/rollback", handleRollback(service))
			modelsGroup.POST("/:id/monitor", handleMonitor(service))
		}
		v1.POST("/abtest", handleABTest(service))

		registry := v1.Group("/registry")
		{
			registry.GET("/export", handleRegistryExport(service))
			registry.POST("/import", handleRegistryImport(service))
		}
	}
}

// requestTimer feeds the request histogram and the transport latency tracker.
// Decision latency for the model monitor is tracked separately on the scoring
// path, so long-running training requests cannot skew health checks.
func requestTimer(service *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)
		metrics.ObserveRequest(c.FullPath(), duration)
		service.Latencies().Observe(duration)
	}
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps domain error kinds onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case utils.IsValidation(err):
		status = http.StatusBadRequest
	case utils.IsNotFound(err):
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func handleAnonymize(service *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.AnonymizeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		record, err := service.Anonymize(req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func handleBatchAnonymize(service *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.BatchAnonymizeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		records, err := service.BatchAnonymize(req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	}
}

func handleSynthesize(service *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.GenerateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := service.Generate(req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

type sequenceRequest struct {
	Records []models.AnonymizedRecord `json:"records"`
	Length  int                       `json:"length,omitempty"`
}

func handlePulseSequence(service *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sequenceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, service.GeneratePulseSequence(req.Records, req.Length))
	}
}

func handleEmotionTrajectory(service *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sequenceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, service.GenerateEmotionTrajectory(req.Records, req.Length))
	}
}

func handleReward(service *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.RewardInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, service.CalculateReward(input))
	}
}

func handleBatchReward(service *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Inputs []models.RewardInput `json:"inputs"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"rewards": service.BatchCalculateRewards(req.Inputs)})
	}
}

func handleRewardWeights(service *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var weights reward.Weights
		if err := c.ShouldBindJSON(&weights); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		normalized, err := service.UpdateRewardWeights(weights)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, normalized)
	}
}

func handleRewardEvaluate(service *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Predictions []float64 `json:"predictions"`
			Actual      []float64 `json:"actual"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := service.EvaluateRewardPredictions(req.Predictions, req.Actual)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func handleTrain(service *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.TrainRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		version, err := service.TrainModel(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, version)
	}
}

func handleTrainFromTelemetry(service *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.TrainFromTelemetryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		version, err := service.TrainFromTelemetry(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, version)
	}
}

func handleEvaluate(service *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := service.EvaluateModel(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func handleDeploy(service *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.DeployRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := service.DeployModel(c.Request.Context(), c.Param("id"), req)
		if err != nil {
			writeError(c, err)
			return
		}
		// A refused deployment is a well-formed outcome, not a transport error.
		c.JSON(http.StatusOK, result)
	}
}

func handleRollback(service *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.RollbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := service.RollbackModel(c.Request.Context(), c.Param("id"), req.Reason)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func handleMonitor(service *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := service.MonitorModel(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func handleABTest(service *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ABTestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := service.RunABTest(req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func handleDeployed(service *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"models": service.DeployedModels()})
	}
}

func handleActive(service *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"models": service.ActiveModels()})
	}
}

func handleRegistryExport(service *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, service.ExportRegistry())
	}
}

func handleRegistryImport(service *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var snapshot models.RegistrySnapshot
		if err := c.ShouldBindJSON(&snapshot); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := service.ImportRegistry(c.Request.Context(), snapshot); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"imported": len(snapshot.Versions)})
	}
}
