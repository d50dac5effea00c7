package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"social-publisher/domain/dto"
	"social-publisher/domain/model"
	"social-publisher/infrastructure/clients/tiktok"
	"social-publisher/infrastructure/logger"
	"social-publisher/usecase"

	"github.com/gin-gonic/gin"
)

const (
	signatureHeader = "X-Signature"
	maxWebhookBody  = 1 << 20
)

// CallbackParser turns a platform's webhook body into a provider callback. A nil callback means
// the event is not a publish outcome and is acknowledged without action.
type CallbackParser func(raw []byte) (*model.ProviderCallback, error)

type IWebhookHandler interface {
	Receive(ctx *gin.Context)
}

type WebhookHandler struct {
	publishUsecase usecase.IPublishUsecase
	secrets        map[string]string
	parsers        map[string]CallbackParser
}

// NewWebhookHandler verifies bodies of platforms listed in secrets. Platforms without a parser use
// the normalized callback document.
func NewWebhookHandler(publishUsecase usecase.IPublishUsecase, secrets map[string]string) IWebhookHandler {
	lowered := make(map[string]string, len(secrets))
	for name, secret := range secrets {
		lowered[strings.ToLower(name)] = secret
	}
	return &WebhookHandler{
		publishUsecase: publishUsecase,
		secrets:        lowered,
		parsers:        map[string]CallbackParser{tiktok.Platform: tiktok.ParseCallback},
	}
}

func (h *WebhookHandler) Receive(ctx *gin.Context) {
	name := strings.ToLower(ctx.Param("platform"))
	lg := logger.GetLogger().WithField("platform", name)

	raw, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBody))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: "unreadable body"})
		return
	}
	if secret := h.secrets[name]; secret != "" && !validSignature(secret, raw, ctx.GetHeader(signatureHeader)) {
		lg.Warn("webhook signature mismatch")
		ctx.JSON(http.StatusUnauthorized, dto.Res{ResponseCode: "401", ResponseMessage: "invalid signature"})
		return
	}

	parse, ok := h.parsers[name]
	if !ok {
		parse = normalizedCallback(name)
	}
	cb, err := parse(raw)
	if err != nil {
		lg.WithField("error", err).Warn("webhook body rejected")
		ctx.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: err.Error()})
		return
	}
	if cb == nil {
		ctx.JSON(http.StatusOK, gin.H{"outcome": "ignored"})
		return
	}

	outcome, err := h.publishUsecase.OnProviderCallback(ctx.Request.Context(), cb)
	var pe *model.PublishError
	if errors.As(err, &pe) && pe.Kind == model.KindValidationRejected {
		lg.WithField("error", err).Warn("provider callback rejected")
		ctx.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: pe.Message})
		return
	}
	if err != nil {
		// A non-2xx makes the platform deliver again.
		lg.WithField("error", err).Error("provider callback not applied")
		ctx.JSON(http.StatusInternalServerError, dto.Res{ResponseCode: "500", ResponseMessage: "callback not applied"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

// validSignature checks "sha256=<hex hmac of body>".
func validSignature(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func normalizedCallback(platform string) CallbackParser {
	return func(raw []byte) (*model.ProviderCallback, error) {
		var cb model.ProviderCallback
		if err := json.Unmarshal(raw, &cb); err != nil {
			return nil, err
		}
		if cb.ProviderContentID == "" || cb.AccountUID == "" {
			return nil, errMissingKey
		}
		cb.Platform = platform
		cb.Raw = raw
		return &cb, nil
	}
}

var errMissingKey = errors.New("account_uid and provider_content_id required")
