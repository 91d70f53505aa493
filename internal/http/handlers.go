package http

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/sujalbistaa/pollwave/internal/apperr"
	"github.com/sujalbistaa/pollwave/internal/auth"
	"github.com/sujalbistaa/pollwave/internal/config"
	"github.com/sujalbistaa/pollwave/internal/metrics"
	"github.com/sujalbistaa/pollwave/internal/poll"
	"github.com/sujalbistaa/pollwave/internal/profile"
	"github.com/sujalbistaa/pollwave/internal/qr"
	"github.com/sujalbistaa/pollwave/internal/ws"
)

// --- Request bodies ---

type voteBody struct {
	OptionID string `json:"optionId"`
}

type updateOptionBody struct {
	Text string `json:"text"`
}

// --- Rate Limiter ---

type IPRateLimiter struct {
	visitors map[string]*rate.Limiter
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
}

func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	return &IPRateLimiter{
		visitors: make(map[string]*rate.Limiter),
		rps:      r,
		burst:    b,
	}
}

func (rl *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	limiter, exists := rl.visitors[ip]
	if !exists {
		limiter = rate.NewLimiter(rl.rps, rl.burst)
		rl.visitors[ip] = limiter
	}
	return limiter
}

// Cleanup forgets fully refilled limiters every interval until ctx is
// cancelled. A refilled limiter behaves exactly like a fresh one.
func (rl *IPRateLimiter) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, v := range rl.visitors {
				if v.Tokens() >= float64(rl.burst) {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *IPRateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

func RateLimitMiddleware(limiter *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.GetLimiter(ip).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate_limited", Message: "Too many requests. Please wait."})
			return
		}
		c.Next()
	}
}

// --- Handlers ---

// Env carries the services the handlers depend on.
type Env struct {
	DB        *gorm.DB
	Polls     *poll.Manager
	Ledger    *poll.Ledger
	Analytics *poll.Aggregator
	Profiles  *profile.Store
	Hub       *ws.Hub
	Metrics   *metrics.Metrics
	Config    config.Config
	Log       *logrus.Entry
}

func (e *Env) ListPolls(c *gin.Context) {
	polls, err := e.Polls.ListVisible(c.Request.Context())
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, polls)
}

func (e *Env) CreatePoll(c *gin.Context) {
	var input poll.CreatePollInput
	if err := c.ShouldBindJSON(&input); err != nil {
		e.badBody(c, err)
		return
	}
	p, err := e.Polls.CreatePoll(c.Request.Context(), profileID(c), input)
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (e *Env) GetPoll(c *gin.Context) {
	p, err := e.Polls.GetVisible(c.Request.Context(), c.Param("id"))
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (e *Env) GetResults(c *gin.Context) {
	res, err := e.Polls.GetResults(c.Request.Context(), c.Param("id"))
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (e *Env) Vote(c *gin.Context) {
	var body voteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		e.badBody(c, err)
		return
	}
	v, err := e.Ledger.Cast(c.Request.Context(), poll.VoteInput{
		PollID:   c.Param("id"),
		OptionID: body.OptionID,
		Caller: poll.Caller{
			ProfileID:  profileID(c),
			OriginAddr: c.ClientIP(),
			VoterToken: c.GetHeader(voterTokenHdr),
			UserAgent:  c.Request.UserAgent(),
		},
	})
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (e *Env) ClosePoll(c *gin.Context) {
	p, err := e.Polls.Close(c.Request.Context(), profileID(c), c.Param("id"))
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (e *Env) DeletePoll(c *gin.Context) {
	if err := e.Polls.Delete(c.Request.Context(), profileID(c), c.Param("id")); err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Poll deleted successfully"})
}

func (e *Env) UpdateOption(c *gin.Context) {
	var body updateOptionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		e.badBody(c, err)
		return
	}
	opt, err := e.Polls.UpdateOption(c.Request.Context(), profileID(c), c.Param("id"), c.Param("optionId"), body.Text)
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, opt)
}

func (e *Env) GetMyProfile(c *gin.Context) {
	p, err := e.Profiles.Get(c.Request.Context(), profileID(c))
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (e *Env) UpdateMyProfile(c *gin.Context) {
	var input profile.UpdateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		e.badBody(c, err)
		return
	}
	p, err := e.Profiles.Update(c.Request.Context(), profileID(c), input)
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// IssueVoterToken hands an anonymous client a signed identity for polls
// that require one.
func (e *Env) IssueVoterToken(c *gin.Context) {
	if e.Config.AnonIdentity != config.AnonIdentityToken || e.Config.VoterTokenSecret == "" {
		e.respondError(c, apperr.New(apperr.KindNotFound, "Voter tokens are not enabled"))
		return
	}
	token, _, err := auth.IssueVoterToken(e.Config.VoterTokenSecret)
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token, "header": voterTokenHdr})
}

func (e *Env) GetQRCode(c *gin.Context) {
	pollID := c.Param("pollId")
	if _, err := uuid.Parse(pollID); err != nil {
		e.respondError(c, apperr.Validation(map[string]string{"pollId": "must be a UUID"}))
		return
	}

	o := qr.DefaultOptions()
	o.Format = c.DefaultQuery("format", o.Format)
	o.Dark = c.DefaultQuery("dark", o.Dark)
	o.Light = c.DefaultQuery("light", o.Light)
	fields := map[string]string{}
	if v := c.Query("width"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fields["width"] = "must be an integer"
		}
		o.Width = n
	}
	if v := c.Query("margin"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fields["margin"] = "must be an integer"
		}
		o.Margin = n
	}
	if len(fields) > 0 {
		e.respondError(c, apperr.Validation(fields))
		return
	}

	img, contentType, err := qr.Render(qr.PollURL(e.Config.AppURL, pollID), o)
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Data(http.StatusOK, contentType, img)
}

func (e *Env) ReconcileAnalytics(c *gin.Context) {
	n, err := e.Analytics.ReconcileAll(c.Request.Context())
	if err != nil {
		e.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"repaired": n})
}

func (e *Env) Health(c *gin.Context) {
	sqlDB, err := e.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		e.Log.WithError(err).Warn("health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
