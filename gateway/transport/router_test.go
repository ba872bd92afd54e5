package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetbridge/interview-gateway/gateway/rooms"
	"github.com/meetbridge/interview-gateway/internal/jwt"
	"github.com/meetbridge/interview-gateway/internal/log"
)

type fakeMeetingControl struct {
	alreadyEnded bool
	err          error
	gotRoomID    string
	gotReason    string
}

func (f *fakeMeetingControl) EndMeeting(_ context.Context, roomID, reason string) (bool, error) {
	f.gotRoomID = roomID
	f.gotReason = reason
	return f.alreadyEnded, f.err
}

func setupRouter(t *testing.T, statusToken string) (*Router, rooms.Service, jwt.Auth, *fakeMeetingControl) {
	gin.SetMode(gin.TestMode)
	logger := log.NewTest(t)

	policy := rooms.Policy{
		EarlyJoin:     15 * time.Minute,
		LateJoinAfter: 30 * time.Minute,
	}
	roomSvc := rooms.NewService(policy, logger)
	t.Cleanup(roomSvc.Close)

	jwtAuth := jwt.NewAuth("test-secret", rooms.RoleNames())
	control := &fakeMeetingControl{}

	router := NewRouter(roomSvc, control, jwtAuth, policy, statusToken, nil, logger)
	return router, roomSvc, jwtAuth, control
}

func TestHealthCheck(t *testing.T) {
	router, _, _, _ := setupRouter(t, "")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/healthz", nil)
	router.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]any
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, "ok", response["status"])
}

func TestCreateInvites(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		router, _, jwtAuth, _ := setupRouter(t, "")

		payload := map[string]any{
			"roomId": "test-room",
		}
		jsonValue, _ := json.Marshal(payload)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/invites", bytes.NewBuffer(jsonValue))
		req.Header.Set("Content-Type", "application/json")
		router.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response struct {
			RoomID string            `json:"roomId"`
			Tokens map[string]string `json:"tokens"`
		}
		err := json.Unmarshal(w.Body.Bytes(), &response)
		require.NoError(t, err)
		assert.Equal(t, "test-room", response.RoomID)
		assert.Len(t, response.Tokens, len(rooms.RoleNames()))

		// Every minted token verifies and carries its role
		for role, token := range response.Tokens {
			claims, err := jwtAuth.Verify(token)
			require.NoError(t, err)
			assert.Equal(t, role, claims.Role)
			assert.Equal(t, "test-room", claims.RoomID)
			assert.NotEmpty(t, claims.TokenID())
		}
	})

	t.Run("SubsetWithSchedule", func(t *testing.T) {
		router, _, jwtAuth, _ := setupRouter(t, "")

		startAt := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
		payload := map[string]any{
			"roomId":       "test-room",
			"roles":        []string{"candidate"},
			"names":        map[string]string{"candidate": "Jordan"},
			"startAt":      startAt.Format(time.RFC3339),
			"graceMinutes": 30,
		}
		jsonValue, _ := json.Marshal(payload)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/invites", bytes.NewBuffer(jsonValue))
		req.Header.Set("Content-Type", "application/json")
		router.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Tokens         map[string]string `json:"tokens"`
			ScheduledStart int64             `json:"scheduledStart"`
		}
		err := json.Unmarshal(w.Body.Bytes(), &response)
		require.NoError(t, err)
		require.Len(t, response.Tokens, 1)
		assert.Equal(t, startAt.UnixMilli(), response.ScheduledStart)

		claims, err := jwtAuth.Verify(response.Tokens["candidate"])
		require.NoError(t, err)
		assert.Equal(t, "Jordan", claims.DisplayName())
		assert.Equal(t, 30, claims.GraceMin)

		sched, ok := claims.ScheduledStart()
		require.True(t, ok)
		assert.Equal(t, startAt.Unix(), sched.Unix())
	})

	t.Run("ValidationError", func(t *testing.T) {
		router, _, _, _ := setupRouter(t, "")

		payload := map[string]any{
			"roomId": "x", // too short
		}
		jsonValue, _ := json.Marshal(payload)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/invites", bytes.NewBuffer(jsonValue))
		req.Header.Set("Content-Type", "application/json")
		router.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("UnknownRole", func(t *testing.T) {
		router, _, _, _ := setupRouter(t, "")

		payload := map[string]any{
			"roomId": "test-room",
			"roles":  []string{"producer"},
		}
		jsonValue, _ := json.Marshal(payload)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/invites", bytes.NewBuffer(jsonValue))
		req.Header.Set("Content-Type", "application/json")
		router.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestValidateToken(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		router, _, jwtAuth, _ := setupRouter(t, "")

		token, err := jwtAuth.Sign(jwt.SignParams{
			RoomID: "test-room",
			Role:   "candidate",
			TTL:    time.Hour,
		})
		require.NoError(t, err)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/validate?t="+token, nil)
		router.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]any
		err = json.Unmarshal(w.Body.Bytes(), &response)
		require.NoError(t, err)
		assert.Equal(t, true, response["valid"])
		assert.Equal(t, "test-room", response["roomId"])
		assert.Equal(t, "candidate", response["role"])
	})

	t.Run("InvalidToken", func(t *testing.T) {
		router, _, _, _ := setupRouter(t, "")

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/validate?t=not-a-token", nil)
		router.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]any
		err := json.Unmarshal(w.Body.Bytes(), &response)
		require.NoError(t, err)
		assert.Equal(t, false, response["valid"])
		assert.Equal(t, "invalid_token", response["reason"])
	})

	t.Run("ReportsOccupancy", func(t *testing.T) {
		router, roomSvc, jwtAuth, _ := setupRouter(t, "")

		res := roomSvc.Admit(&rooms.JoinRequest{
			ConnID:  "conn1",
			RoomID:  "test-room",
			Role:    rooms.RoleBot,
			TokenID: "jti-bot",
			Name:    "Bot",
		})
		require.True(t, res.Admitted)

		token, err := jwtAuth.Sign(jwt.SignParams{
			RoomID: "test-room",
			Role:   "recruiter",
			TTL:    time.Hour,
		})
		require.NoError(t, err)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/validate?t="+token, nil)
		router.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]any
		err = json.Unmarshal(w.Body.Bytes(), &response)
		require.NoError(t, err)
		assert.Equal(t, true, response["valid"])
		assert.Equal(t, float64(1), response["activePeerCount"])
	})

	t.Run("MissingParam", func(t *testing.T) {
		router, _, _, _ := setupRouter(t, "")

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/validate", nil)
		router.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRoomStatus(t *testing.T) {
	t.Run("NotFound", func(t *testing.T) {
		router, _, _, _ := setupRouter(t, "")

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/rooms/missing-room", nil)
		router.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Found", func(t *testing.T) {
		router, roomSvc, _, _ := setupRouter(t, "")

		res := roomSvc.Admit(&rooms.JoinRequest{
			ConnID:  "conn1",
			RoomID:  "test-room",
			Role:    rooms.RoleBot,
			TokenID: "jti-bot",
			Name:    "Bot",
		})
		require.True(t, res.Admitted)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/rooms/test-room", nil)
		router.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var status rooms.RoomStatus
		err := json.Unmarshal(w.Body.Bytes(), &status)
		require.NoError(t, err)
		assert.Equal(t, "test-room", status.RoomID)
		assert.Len(t, status.Participants, 1)
		assert.NotZero(t, status.StartMs)
	})

	t.Run("List", func(t *testing.T) {
		router, roomSvc, _, _ := setupRouter(t, "")

		roomSvc.Admit(&rooms.JoinRequest{
			ConnID:  "conn1",
			RoomID:  "room-a",
			Role:    rooms.RoleBot,
			TokenID: "jti-a",
		})
		roomSvc.Admit(&rooms.JoinRequest{
			ConnID:  "conn2",
			RoomID:  "room-b",
			Role:    rooms.RoleBot,
			TokenID: "jti-b",
		})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/rooms", nil)
		router.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Rooms []rooms.RoomStatus `json:"rooms"`
		}
		err := json.Unmarshal(w.Body.Bytes(), &response)
		require.NoError(t, err)
		assert.Len(t, response.Rooms, 2)
	})

	t.Run("ValidationError", func(t *testing.T) {
		router, _, _, _ := setupRouter(t, "")

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/rooms/bad@room", nil)
		router.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestStatusTokenGate(t *testing.T) {
	t.Run("MissingToken", func(t *testing.T) {
		router, _, _, _ := setupRouter(t, "operator-secret")

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/rooms", nil)
		router.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("WrongToken", func(t *testing.T) {
		router, _, _, _ := setupRouter(t, "operator-secret")

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/rooms", nil)
		req.Header.Set("X-Status-Token", "guess")
		router.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("CorrectToken", func(t *testing.T) {
		router, _, _, _ := setupRouter(t, "operator-secret")

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/rooms", nil)
		req.Header.Set("X-Status-Token", "operator-secret")
		router.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("OpenEndpointsUnaffected", func(t *testing.T) {
		router, _, _, _ := setupRouter(t, "operator-secret")

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/policy-open", nil)
		router.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestPolicy(t *testing.T) {
	t.Run("Open", func(t *testing.T) {
		router, _, _, _ := setupRouter(t, "")

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/policy-open", nil)
		router.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]any
		err := json.Unmarshal(w.Body.Bytes(), &response)
		require.NoError(t, err)
		assert.Equal(t, float64(15), response["earlyJoinMinutes"])
		assert.Equal(t, false, response["restrictLateJoin"])
		assert.NotContains(t, response, "idleTTLMinutes")
	})

	t.Run("Full", func(t *testing.T) {
		router, _, _, _ := setupRouter(t, "")

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/policy", nil)
		router.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]any
		err := json.Unmarshal(w.Body.Bytes(), &response)
		require.NoError(t, err)
		assert.Equal(t, float64(15), response["earlyJoinMinutes"])
		assert.Equal(t, float64(30), response["lateJoinAfterMinutes"])
		assert.Contains(t, response, "idleTTLMinutes")
	})
}

func TestEndMeeting(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		router, _, _, control := setupRouter(t, "")

		payload := map[string]string{"reason": "interview_complete"}
		jsonValue, _ := json.Marshal(payload)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/meetings/test-room/end", bytes.NewBuffer(jsonValue))
		req.Header.Set("Content-Type", "application/json")
		router.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "test-room", control.gotRoomID)
		assert.Equal(t, "interview_complete", control.gotReason)

		var response map[string]any
		err := json.Unmarshal(w.Body.Bytes(), &response)
		require.NoError(t, err)
		assert.Equal(t, true, response["success"])
		assert.Equal(t, false, response["alreadyEnded"])
	})

	t.Run("DefaultReason", func(t *testing.T) {
		router, _, _, control := setupRouter(t, "")

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/meetings/test-room/end", nil)
		router.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ended_by_host", control.gotReason)
	})

	t.Run("AlreadyEnded", func(t *testing.T) {
		router, _, _, control := setupRouter(t, "")
		control.alreadyEnded = true

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/meetings/test-room/end", nil)
		router.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]any
		err := json.Unmarshal(w.Body.Bytes(), &response)
		require.NoError(t, err)
		assert.Equal(t, true, response["alreadyEnded"])
	})

	t.Run("ControlError", func(t *testing.T) {
		router, _, _, control := setupRouter(t, "")
		control.err = errors.New("control error")

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/meetings/test-room/end", nil)
		router.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("ValidationError", func(t *testing.T) {
		router, _, _, _ := setupRouter(t, "")

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/meetings/bad@room/end", nil)
		router.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
