package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"buybox/internal/alerts"
	"buybox/internal/buybox"
	"buybox/internal/storage"
)

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "buybox-tracker",
	})
}

func (s *Server) ListProducts(c *gin.Context) {
	products, err := s.Repo.ListProducts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products, "count": len(products)})
}

type addProductRequest struct {
	ASIN string `json:"asin"`
	URL  string `json:"url"`
}

// AddProduct runs a synchronous check for one identifier (or a product URL
// carrying one) and persists the result.
func (s *Server) AddProduct(c *gin.Context) {
	var req addProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	asin := req.ASIN
	if asin == "" && req.URL != "" {
		if found := ExtractASINs(req.URL); len(found) > 0 {
			asin = found[0]
		}
	}
	if !ValidASIN(asin) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "asin must be 10 uppercase alphanumeric characters, or url must contain one"})
		return
	}

	res := s.Tracker.Check(c.Request.Context(), asin, "")
	if err := s.HandleResult(c.Request.Context(), res); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) GetProduct(c *gin.Context) {
	p, err := s.Repo.Product(c.Request.Context(), c.Param("asin"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not tracked"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) DeleteProduct(c *gin.Context) {
	existed, err := s.Repo.DeleteProduct(c.Request.Context(), c.Param("asin"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !existed {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not tracked"})
		return
	}
	c.Status(http.StatusNoContent)
}

// CheckProduct re-checks a tracked identifier on demand.
func (s *Server) CheckProduct(c *gin.Context) {
	asin := c.Param("asin")
	if !ValidASIN(asin) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asin"})
		return
	}

	res := s.Tracker.Check(c.Request.Context(), asin, "")
	if err := s.HandleResult(c.Request.Context(), res); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) GetHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	entries, err := s.Repo.History(c.Request.Context(), c.Param("asin"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries, "count": len(entries)})
}

type bulkRequest struct {
	ASINs []string `json:"asins"`
}

// StartBulk launches an asynchronous job over the supplied identifiers and
// returns its id for polling.
func (s *Server) StartBulk(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.ASINs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "asins must be a non-empty array"})
		return
	}
	for _, asin := range req.ASINs {
		if !ValidASIN(asin) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asin: " + asin})
			return
		}
	}

	// The job must outlive this request.
	id := s.Tracker.StartBulk(context.WithoutCancel(c.Request.Context()), s.Jobs, req.ASINs, "", s.HandleResult, s.Delays)
	c.JSON(http.StatusAccepted, gin.H{"job_id": id, "total": len(req.ASINs)})
}

type bulkURLsRequest struct {
	Text string `json:"text"`
}

// StartBulkURLs extracts identifiers from pasted text (product URLs or bare
// ASINs) and launches a job over them.
func (s *Server) StartBulkURLs(c *gin.Context) {
	var req bulkURLsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	asins := ExtractASINs(req.Text)
	if len(asins) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no identifiers found in text"})
		return
	}

	id := s.Tracker.StartBulk(context.WithoutCancel(c.Request.Context()), s.Jobs, asins, "", s.HandleResult, s.Delays)
	c.JSON(http.StatusAccepted, gin.H{"job_id": id, "total": len(asins), "asins": asins})
}

func (s *Server) GetJob(c *gin.Context) {
	job, ok := s.Jobs.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// GetStats summarizes the tracked set: counts per status and the average
// buybox price over products that have one.
func (s *Server) GetStats(c *gin.Context) {
	products, err := s.Repo.ListProducts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	byStatus := map[string]int{}
	var priceSum float64
	priced := 0
	for _, p := range products {
		byStatus[p.Status]++
		if p.Price != nil {
			priceSum += *p.Price
			priced++
		}
	}
	var avg *float64
	if priced > 0 {
		v := priceSum / float64(priced)
		avg = &v
	}
	c.JSON(http.StatusOK, gin.H{
		"total":            len(products),
		"by_status":        byStatus,
		"winning":          byStatus[string(buybox.StatusWinning)],
		"amazon_wins":      byStatus[string(buybox.StatusAmazon)],
		"third_party_wins": byStatus[string(buybox.StatusLosing)],
		"average_price":    avg,
	})
}

// GetAlertSettings reports the per-state toggles and the configured
// channel names.
func (s *Server) GetAlertSettings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"notify":   s.Dispatcher.Settings(),
		"channels": s.Dispatcher.Channels(),
	})
}

// UpdateAlertSettings replaces the per-state toggles for the running process.
func (s *Server) UpdateAlertSettings(c *gin.Context) {
	var req alerts.Notify
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	s.Dispatcher.SetSettings(req)
	c.JSON(http.StatusOK, gin.H{
		"notify":   s.Dispatcher.Settings(),
		"channels": s.Dispatcher.Channels(),
	})
}

// TestAlerts sends a test message through every channel and reports the
// per-channel result.
func (s *Server) TestAlerts(c *gin.Context) {
	results := s.Dispatcher.SendTest(c.Request.Context())
	if len(results) == 0 {
		c.JSON(http.StatusOK, gin.H{"results": results, "message": "no channels configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) GetScheduler(c *gin.Context) {
	c.JSON(http.StatusOK, s.Sched.Status())
}

type schedulerRequest struct {
	IntervalMinutes int  `json:"interval_minutes"`
	Enabled         bool `json:"enabled"`
}

func (s *Server) UpdateScheduler(c *gin.Context) {
	var req schedulerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.Sched.Update(c.Request.Context(), req.IntervalMinutes, req.Enabled); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.Sched.Status())
}
