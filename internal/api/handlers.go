package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"xdigest/pkg/digest"
	"xdigest/pkg/scraper"
)

type createDigestRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	Handle        string `json:"handle" binding:"required"`
	MaxFollowings int    `json:"max_followings" binding:"gte=0,lte=1000"`
	MaxPosts      int    `json:"max_posts" binding:"gte=0,lte=100"`
	Concurrency   int    `json:"concurrency" binding:"gte=0,lte=64"`
	Recipient     string `json:"recipient"`
}

type createDigestResponse struct {
	RunID     string `json:"run_id"`
	Outcome   string `json:"outcome"`
	Source    string `json:"source,omitempty"`
	Accounts  int    `json:"accounts"`
	Posts     int    `json:"posts"`
	Degraded  int    `json:"degraded"`
	Artifact  string `json:"artifact,omitempty"`
	Download  string `json:"download,omitempty"`
	Remaining int    `json:"remaining"`
}

var outcomeStatus = map[scraper.Outcome]int{
	scraper.OutcomeSuccess:           http.StatusCreated,
	scraper.OutcomeQuotaExceeded:     http.StatusTooManyRequests,
	scraper.OutcomeNoAccounts:        http.StatusOK,
	scraper.OutcomeEmptyToday:        http.StatusOK,
	scraper.OutcomeDigestWriteFailed: http.StatusInternalServerError,
}

func (h *Handler) CreateDigestHandler(c *gin.Context) {
	var req createDigestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.Runner.Run(c.Request.Context(), scraper.RunRequest{
		UserID:             req.UserID,
		Handle:             req.Handle,
		MaxFollowings:      req.MaxFollowings,
		MaxPostsPerAccount: req.MaxPosts,
		Concurrency:        req.Concurrency,
		Recipient:          req.Recipient,
	})
	if res == nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		h.Logger.WithError(err).WithField("user_id", req.UserID).Error("Run failed")
		c.JSON(status, gin.H{"error": "run failed"})
		return
	}

	body := createDigestResponse{
		RunID:     res.RunID,
		Outcome:   string(res.Outcome),
		Source:    string(res.Source),
		Accounts:  res.Accounts,
		Posts:     res.Posts,
		Degraded:  res.Degraded,
		Remaining: res.Admission.Remaining(),
	}
	if res.Artifact != "" {
		body.Artifact = filepath.Base(res.Artifact)
		body.Download = "/v1/digests/" + body.Artifact
	}

	status, ok := outcomeStatus[res.Outcome]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.JSON(status, body)
}

func (h *Handler) DownloadDigestHandler(c *gin.Context) {
	name := c.Param("name")
	path, err := h.Artifacts.Path(name)
	if errors.Is(err, digest.ErrInvalidName) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid digest name"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "digest not found"})
		return
	}

	c.FileAttachment(path, name)
}

func (h *Handler) QuotaHandler(c *gin.Context) {
	userID := c.Param("id")
	adm, err := h.Quota.Admit(c.Request.Context(), userID)
	if err != nil {
		h.Logger.WithError(err).WithField("user_id", userID).Error("Quota lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quota lookup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":   userID,
		"used":      adm.Used,
		"remaining": adm.Remaining(),
		"threshold": adm.Threshold,
	})
}

func (h *Handler) HealthCheckHandler(c *gin.Context) {
	if h.DB == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.DB.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "failure", "details": "database ping failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
