package console

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orion-pds/orion/internal/accounts"
	"github.com/orion-pds/orion/internal/audit"
	"github.com/orion-pds/orion/internal/middleware"
)

// ActionDispatcher runs the confirm/execute protocol for moderation actions.
type ActionDispatcher interface {
	Confirm(ctx context.Context, actionName, did string) (*accounts.Confirmation, error)
	Execute(ctx context.Context, actorID, actionName, did string) (*accounts.Outcome, error)
}

// AccountHandlers handles moderation actions on a single account
type AccountHandlers struct {
	dispatcher ActionDispatcher
}

// NewAccountHandlers creates a new AccountHandlers instance
func NewAccountHandlers(dispatcher ActionDispatcher) *AccountHandlers {
	return &AccountHandlers{dispatcher: dispatcher}
}

// ActionHandler confirms (GET) or executes (POST) an action on an account.
// ANY /accounts/:did/:action/
func (h *AccountHandlers) ActionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		did := c.Param("did")
		action := c.Param("action")
		ctx := c.Request.Context()

		if _, err := accounts.ParseAction(action); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid action"})
			return
		}

		switch c.Request.Method {
		case http.MethodGet:
			confirmation, err := h.dispatcher.Confirm(ctx, action, did)
			if err != nil {
				respondActionError(c, action, did, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"action":       confirmation.Action.String(),
				"did":          confirmation.DID,
				"account_info": confirmation.Info,
				"event":        confirmation.Event,
			})

		case http.MethodPost:
			outcome, err := h.dispatcher.Execute(ctx, c.GetString(middleware.UserIDKey), action, did)
			if err != nil {
				respondActionError(c, action, did, err)
				return
			}
			if !outcome.Succeeded {
				slog.Warn("account action did not succeed on the PDS", "action", outcome.Action.String(), "did", did)
			}
			c.Redirect(http.StatusFound, dashboardPath)

		default:
			c.Header("Allow", "GET, POST")
			c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
		}
	}
}

func respondActionError(c *gin.Context, action, did string, err error) {
	switch {
	case errors.Is(err, accounts.ErrInvalidAction):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid action"})
	default:
		if errors.Is(err, audit.ErrStorage) {
			slog.Error("audit record could not be written", "action", action, "did", did, "error", err)
		} else {
			slog.Error("account action failed", "action", action, "did", did, "error", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record action"})
	}
}
