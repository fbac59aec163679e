package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/om-surushe/SMTP-Server/internal/service"
	"github.com/om-surushe/SMTP-Server/internal/status"
)

// EmailHandler 邮件提交与状态查询处理器
type EmailHandler struct {
	mailer *service.MailerService
}

// NewEmailHandler 创建邮件处理器
func NewEmailHandler(mailer *service.MailerService) *EmailHandler {
	return &EmailHandler{mailer: mailer}
}

// SubmitEmail godoc
// @Summary 提交邮件
// @Description 受理一封待投递的邮件，异步转发到上游中继，立即返回消息标识
// @Tags Emails
// @Accept json
// @Produce json
// @Param request body service.SubmitInput true "邮件内容"
// @Success 202 {object} Response{data=object{id=string}}
// @Failure 400 {object} Response
// @Failure 503 {object} Response
// @Security BearerAuth
// @Router /api/emails [post]
func (h *EmailHandler) SubmitEmail(c *gin.Context) {
	var input service.SubmitInput
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	id, err := h.mailer.Submit(input)
	switch {
	case errors.Is(err, service.ErrEmptySender), errors.Is(err, service.ErrNoRecipients):
		BadRequest(c, GetErrorMessage(err))
		return
	case errors.Is(err, service.ErrQueueFull):
		ServiceUnavailable(c, GetErrorMessage(err))
		return
	case err != nil:
		InternalError(c, MsgInternalError)
		return
	}

	Accepted(c, gin.H{"id": id})
}

// GetEmailStatus godoc
// @Summary 查询邮件状态
// @Description 按消息标识查询投递状态
// @Tags Emails
// @Produce json
// @Param id path string true "消息标识"
// @Success 200 {object} Response{data=domain.EmailStatus}
// @Failure 404 {object} Response
// @Security BearerAuth
// @Router /api/emails/{id} [get]
func (h *EmailHandler) GetEmailStatus(c *gin.Context) {
	id := c.Param("id")

	entry, err := h.mailer.Status(id)
	if err != nil {
		if errors.Is(err, status.ErrStatusNotFound) {
			NotFound(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgInternalError)
		return
	}

	Success(c, entry)
}

// GetGatewayStatus godoc
// @Summary 网关状态概览
// @Description 按投递状态汇总当前所有邮件记录
// @Tags Status
// @Produce json
// @Success 200 {object} Response{data=service.Overview}
// @Router /api/status [get]
func (h *EmailHandler) GetGatewayStatus(c *gin.Context) {
	Success(c, h.mailer.StatusOverview())
}
