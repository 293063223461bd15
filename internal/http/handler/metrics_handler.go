package handler

import (
	"net/http"
	"strings"

	"RecurringEvents/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type MetricsHandler struct {
	rdb *redis.Client
}

func NewMetricsHandler(rdb *redis.Client) *MetricsHandler {
	return &MetricsHandler{rdb: rdb}
}

// GET /api/v1/metrics/scheduler
func (h *MetricsHandler) GetSchedulerMetrics(c *gin.Context) {
	ctx := c.Request.Context()
	last, err := h.rdb.HGetAll(ctx, "metrics:scheduler:last").Result()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	ticks, err := h.rdb.Get(ctx, "metrics:scheduler:ticks").Int64()
	if err != nil && err != redis.Nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ticks": ticks,
		"last":  last, // 包含 time, due_count, claimed_count, committed_count 等
	})
}

// GET /api/v1/metrics/worker
func (h *MetricsHandler) GetWorkerMetrics(c *gin.Context) {
	ctx := c.Request.Context()
	keys, _, err := h.rdb.Scan(ctx, 0, "metrics:worker:*", 1000).Result()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	type item struct {
		Queue  string `json:"queue"`
		Metric string `json:"metric"`
		Value  int64  `json:"value"`
	}
	var list []item
	for _, k := range keys {
		val, _ := h.rdb.Get(ctx, k).Int64()
		parts := strings.Split(k, ":")
		if len(parts) < 4 {
			continue
		}
		list = append(list, item{
			Queue:  parts[2],
			Metric: parts[3],
			Value:  val,
		})
	}
	c.JSON(http.StatusOK, gin.H{"metrics": list, "count": len(list)})
}

// GET /api/v1/workers 列出仍有心跳的投递 worker
func (h *MetricsHandler) ListWorkers(c *gin.Context) {
	ctx := c.Request.Context()
	keys, _, err := h.rdb.Scan(ctx, 0, worker.HeartbeatKeyPattern, 1000).Result()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list workers failed", "detail": err.Error()})
		return
	}
	type workerItem struct {
		ID  string `json:"id"`
		TTL int64  `json:"ttl_seconds"`
	}
	out := make([]workerItem, 0, len(keys))
	for _, k := range keys {
		ttl, _ := h.rdb.TTL(ctx, k).Result()
		out = append(out, workerItem{ID: worker.WorkerIDFromHeartbeatKey(k), TTL: int64(ttl.Seconds())})
	}
	c.JSON(http.StatusOK, gin.H{"workers": out, "count": len(out)})
}
