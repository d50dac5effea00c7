package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"social-publisher/domain/dto"
	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"
	"social-publisher/infrastructure/utils"

	"github.com/gin-gonic/gin"
)

const stateTTL = 10 * time.Minute

// OAuthConnector runs the authorization-code flow of a platform.
type OAuthConnector interface {
	AuthCodeURL(platform, state string) (string, error)
	Exchange(ctx context.Context, platform, accountID, code string) (*model.OAuth2Credential, error)
}

type IOAuthHandler interface {
	GetAuthURL(ctx *gin.Context)
	Callback(ctx *gin.Context)
}

// OAuthHandler connects an account to a platform. The state parameter is a short-lived signed
// token naming the platform and account, so no server-side session is needed.
type OAuthHandler struct {
	connector OAuthConnector
	creds     repository.IOAuthCredential
	secretKey string
}

func NewOAuthHandler(connector OAuthConnector, creds repository.IOAuthCredential, secretKey string) IOAuthHandler {
	return &OAuthHandler{connector: connector, creds: creds, secretKey: secretKey}
}

// GetAuthURL handles GET /auth/:platform?account_id=...
func (h *OAuthHandler) GetAuthURL(ctx *gin.Context) {
	platform := strings.ToLower(ctx.Param("platform"))
	accountID := ctx.Query("account_id")
	if accountID == "" {
		ctx.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: "account_id required"})
		return
	}
	state, err := utils.GenerateToken(map[string]interface{}{
		"platform":   platform,
		"account_id": accountID,
		"exp":        time.Now().Add(stateTTL).Unix(),
	}, h.secretKey)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, dto.Res{ResponseCode: "500", ResponseMessage: "could not create state"})
		return
	}
	authURL, err := h.connector.AuthCodeURL(platform, state)
	if errors.Is(err, model.ErrUnsupportedPlatform) {
		ctx.JSON(http.StatusNotFound, dto.Res{ResponseCode: "404", ResponseMessage: err.Error()})
		return
	}
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, dto.Res{ResponseCode: "500", ResponseMessage: err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"auth_url": authURL, "state": state})
}

// Callback handles GET /auth/:platform/callback
func (h *OAuthHandler) Callback(ctx *gin.Context) {
	platform := strings.ToLower(ctx.Param("platform"))
	lg := logger.GetLogger().WithField("platform", platform)
	if e := ctx.Query("error"); e != "" {
		ctx.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: "authorization denied: " + e})
		return
	}
	code := ctx.Query("code")
	if code == "" {
		ctx.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: "missing code"})
		return
	}
	claims, err := utils.ParseToken(ctx.Query("state"), h.secretKey)
	if err != nil || claims["platform"] != platform {
		ctx.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: "invalid_state"})
		return
	}
	accountID, _ := claims["account_id"].(string)
	if accountID == "" {
		ctx.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: "invalid_state"})
		return
	}

	cred, err := h.connector.Exchange(ctx.Request.Context(), platform, accountID, code)
	if err != nil {
		lg.WithField("account_id", accountID).WithField("error", err).Error("token exchange failed")
		ctx.JSON(http.StatusBadGateway, dto.Res{ResponseCode: "502", ResponseMessage: "token_exchange_failed"})
		return
	}
	if err := h.creds.Upsert(ctx.Request.Context(), cred); err != nil {
		lg.WithField("account_id", accountID).WithField("error", err).Error("credential not stored")
		ctx.JSON(http.StatusInternalServerError, dto.Res{ResponseCode: "500", ResponseMessage: "credential_not_stored"})
		return
	}
	lg.WithField("account_id", accountID).Info("account connected")
	ctx.JSON(http.StatusOK, gin.H{
		"connected":  true,
		"platform":   platform,
		"account_id": accountID,
		"expires_at": cred.AccessTokenExpiresAt,
	})
}
