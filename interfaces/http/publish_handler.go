package http

import (
	"errors"
	"net/http"
	"strconv"

	"social-publisher/domain/dto"
	"social-publisher/domain/model"
	"social-publisher/infrastructure/logger"
	"social-publisher/usecase"

	"github.com/gin-gonic/gin"
)

const (
	ErrorUnmarshal = "Error while unmarshal"
)

type IPublishHandler interface {
	Create(ctx *gin.Context)
	Get(ctx *gin.Context)
	Delete(ctx *gin.Context)
	Retry(ctx *gin.Context)
	ListFlow(ctx *gin.Context)
}

type PublishHandler struct {
	publishUsecase usecase.IPublishUsecase
}

func NewPublishHandler(publishUsecase usecase.IPublishUsecase) IPublishHandler {
	return &PublishHandler{publishUsecase: publishUsecase}
}

func (h *PublishHandler) Create(ctx *gin.Context) {
	var req usecase.CreatePublishRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		logger.GetLogger().WithField("error", err).Error(ErrorUnmarshal)
		ctx.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: ErrorUnmarshal + ": " + err.Error()})
		return
	}
	tasks, err := h.publishUsecase.Create(ctx.Request.Context(), ctx.GetString("user_id"), req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"tasks": tasks})
}

func (h *PublishHandler) Get(ctx *gin.Context) {
	task, err := h.publishUsecase.Get(ctx.Request.Context(), ctx.GetString("user_id"), ctx.Param("id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, task)
}

func (h *PublishHandler) Delete(ctx *gin.Context) {
	if err := h.publishUsecase.Delete(ctx.Request.Context(), ctx.GetString("user_id"), ctx.Param("id")); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

// Retry is the user's "retry now" on a failed task.
func (h *PublishHandler) Retry(ctx *gin.Context) {
	task, err := h.publishUsecase.Retry(ctx.Request.Context(), ctx.GetString("user_id"), ctx.Param("id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusAccepted, task)
}

func (h *PublishHandler) ListFlow(ctx *gin.Context) {
	tasks, err := h.publishUsecase.ListFlow(ctx.Request.Context(), ctx.GetString("user_id"), ctx.Param("flowId"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	if tasks == nil {
		tasks = []*model.PublishTask{}
	}
	ctx.JSON(http.StatusOK, gin.H{"flow_id": ctx.Param("flowId"), "tasks": tasks})
}

func writeError(ctx *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, usecase.ErrBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrTaskNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrDeleteRefused), errors.Is(err, model.ErrInvalidTransition):
		status = http.StatusConflict
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.GetLogger().WithField("path", ctx.FullPath()).WithField("error", err).Error("request failed")
		msg = http.StatusText(status)
	}
	ctx.JSON(status, dto.Res{ResponseCode: strconv.Itoa(status), ResponseMessage: msg})
}
