package transport

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/meetbridge/interview-gateway/gateway"
	"github.com/meetbridge/interview-gateway/gateway/rooms"
	"github.com/meetbridge/interview-gateway/internal/errors"
	"github.com/meetbridge/interview-gateway/internal/jwt"
	"github.com/meetbridge/interview-gateway/internal/log"
	"github.com/meetbridge/interview-gateway/internal/validation"
)

const defaultInviteTTL = 24 * time.Hour

type Router struct {
	roomSvc     rooms.Service
	control     gateway.MeetingControl
	jwtAuth     jwt.Auth
	policy      rooms.Policy
	statusToken string
	engine      *gin.Engine
	logger      *log.Logger
}

func NewRouter(
	roomSvc rooms.Service,
	control gateway.MeetingControl,
	jwtAuth jwt.Auth,
	policy rooms.Policy,
	statusToken string,
	allowedOrigins []string,
	logger *log.Logger,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	// Add OpenTelemetry middleware for automatic HTTP tracing
	engine.Use(otelgin.Middleware("interview-gateway"))

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Status-Token"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}))

	r := &Router{
		roomSvc:     roomSvc,
		control:     control,
		jwtAuth:     jwtAuth,
		policy:      policy,
		statusToken: statusToken,
		engine:      engine,
		logger:      logger,
	}

	r.setupRoutes()
	return r
}

func (r *Router) Handler() http.Handler {
	return r.engine
}

func (r *Router) setupRoutes() {
	r.engine.POST("/api/invites", r.createInvites)
	r.engine.GET("/api/validate", r.validateToken)
	r.engine.GET("/api/policy-open", r.policyOpen)

	// Operator surface
	auth := r.engine.Group("", r.statusAuth)
	auth.GET("/api/rooms", r.listRooms)
	auth.GET("/api/rooms/:roomId", r.getRoom)
	auth.GET("/api/policy", r.policyFull)
	auth.POST("/api/meetings/:roomId/end", r.endMeeting)

	// Health check
	r.engine.GET("/healthz", r.healthCheck)
}

// statusAuth gates operator endpoints behind a shared token. An empty
// configured token leaves the surface open for local deployments.
func (r *Router) statusAuth(c *gin.Context) {
	if r.statusToken == "" {
		return
	}
	if c.GetHeader("X-Status-Token") != r.statusToken {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "invalid status token",
		})
	}
}

func (r *Router) createInvites(c *gin.Context) {
	var body CreateInvitesBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"details": validation.FormatValidationError(err),
		})
		return
	}

	roles := body.Roles
	if len(roles) == 0 {
		roles = rooms.RoleNames()
	}
	ttl := defaultInviteTTL
	if body.TTLMinutes > 0 {
		ttl = time.Duration(body.TTLMinutes) * time.Minute
	}
	var notBefore time.Time
	if body.StartAt != nil {
		notBefore = *body.StartAt
	}

	tokens := make(map[string]string, len(roles))
	for _, role := range roles {
		token, err := r.jwtAuth.Sign(jwt.SignParams{
			RoomID:       body.RoomID,
			Role:         role,
			Name:         body.Names[role],
			NotBefore:    notBefore,
			TTL:          ttl,
			GraceMinutes: body.GraceMinutes,
		})
		if err != nil {
			r.logger.Error("Failed to mint invite", log.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   err.Error(),
			})
			return
		}
		tokens[role] = token
	}

	r.logger.Info("Invites minted",
		log.String("roomId", body.RoomID),
		log.Strings("roles", roles),
	)

	resp := gin.H{
		"roomId": body.RoomID,
		"tokens": tokens,
	}
	if body.StartAt != nil {
		resp["scheduledStart"] = body.StartAt.UnixMilli()
	}
	c.JSON(http.StatusOK, resp)
}

// validateToken is the read-only pre-connect probe. It answers 200 for
// both outcomes; invalidity is data, not an HTTP failure.
func (r *Router) validateToken(c *gin.Context) {
	var query ValidateQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"details": validation.FormatValidationError(err),
		})
		return
	}

	payload, err := r.jwtAuth.Verify(query.Token)
	if err != nil {
		if !jwt.IsVerificationFailure(err) {
			r.logger.Error("Token verification failed", log.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "verification error",
			})
			return
		}
		reason := "invalid_token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			reason = string(rooms.DenyTooLate)
		}
		c.JSON(http.StatusOK, gin.H{
			"valid":  false,
			"reason": reason,
		})
		return
	}

	c.JSON(http.StatusOK, r.roomSvc.Probe(rooms.RequestFromClaims(payload)))
}

func (r *Router) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"rooms": r.roomSvc.ListStatus(),
	})
}

func (r *Router) getRoom(c *gin.Context) {
	var uri RoomStatusURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"details": validation.FormatValidationError(err),
		})
		return
	}

	status, ok := r.roomSvc.GetStatus(uri.RoomID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "room not found",
		})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (r *Router) policyFull(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"earlyJoinMinutes":     int(r.policy.EarlyJoin.Minutes()),
		"lateJoinAfterMinutes": int(r.policy.LateJoinAfter.Minutes()),
		"restrictLateJoin":     r.policy.RestrictLateJoin,
		"idleTTLMinutes":       int(r.policy.IdleTTL.Minutes()),
	})
}

// policyOpen exposes only what a joining client needs to render
// guidance before connecting.
func (r *Router) policyOpen(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"earlyJoinMinutes": int(r.policy.EarlyJoin.Minutes()),
		"restrictLateJoin": r.policy.RestrictLateJoin,
	})
}

func (r *Router) endMeeting(c *gin.Context) {
	var uri EndMeetingURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"details": validation.FormatValidationError(err),
		})
		return
	}

	var body EndMeetingBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "Validation failed",
				"details": validation.FormatValidationError(err),
			})
			return
		}
	}
	reason := body.Reason
	if reason == "" {
		reason = "ended_by_host"
	}

	alreadyEnded, err := r.control.EndMeeting(c.Request.Context(), uri.RoomID, reason)
	if err != nil {
		r.logger.Error("Failed to end meeting", log.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	r.logger.Info("Meeting ended",
		log.String("roomId", uri.RoomID),
		log.String("reason", reason),
		log.Bool("alreadyEnded", alreadyEnded),
	)

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"alreadyEnded": alreadyEnded,
	})
}

func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
