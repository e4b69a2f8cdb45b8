package user

import (
	"encoding/json"
	"net/http"

	"github.com/ZJUSCT/CSLearn/internal/auth"
	"github.com/ZJUSCT/CSLearn/internal/pubsub"
	"github.com/ZJUSCT/CSLearn/internal/submission"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func statusOf(view *submission.View) []byte {
	msg, _ := json.Marshal(pubsub.StatusMessage{
		SubmissionID: view.ID,
		Status:       string(view.Status),
		Score:        view.Score,
		Message:      view.Message,
		Final:        view.Final,
	})
	return msg
}

// handleSubmissionWs streams status changes of one submission until it is final.
func (h *Handler) handleSubmissionWs(c *gin.Context) {
	submissionID := c.Param("id")
	tokenString := c.Query("token")

	if tokenString == "" {
		c.String(http.StatusUnauthorized, "token query parameter is required")
		return
	}

	claims, err := auth.ValidateJWT(tokenString, h.cfg.Auth.JWT.Secret)
	if err != nil {
		c.String(http.StatusUnauthorized, "invalid token")
		return
	}

	view, err := h.engine.Lookup(c.Request.Context(), submissionID)
	if err != nil {
		c.String(http.StatusNotFound, "submission not found")
		return
	}
	if view.UserID != claims.Subject {
		c.String(http.StatusForbidden, "you can only view your own submissions")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zap.S().Errorf("failed to upgrade websocket: %v", err)
		return
	}
	defer conn.Close()

	if view.Final {
		conn.WriteMessage(websocket.TextMessage, statusOf(view))
		return
	}

	msgChan, unsubscribe := h.engine.Broker().Subscribe(submissionID)
	defer unsubscribe()

	// The submission may have finished between the lookup and the subscription.
	if latest, err := h.engine.Lookup(c.Request.Context(), submissionID); err == nil {
		view = latest
	}
	conn.WriteMessage(websocket.TextMessage, statusOf(view))
	if view.Final {
		return
	}

	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					zap.S().Infof("websocket unexpected close error: %v", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-msgChan:
			if !ok {
				zap.S().Infof("websocket stream finished for submission %s", submissionID)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				zap.S().Warnf("error writing to websocket: %v", err)
				return
			}
		case <-clientGone:
			return
		}
	}
}
