package httptransport

// 通用错误消息
const (
	// 邮件相关
	MsgMessageNotFound   = "邮件不存在"
	MsgMessageListFailed = "获取邮件列表失败"
	MsgMessageGetFailed  = "获取邮件详情失败"

	// 附件相关
	MsgAttachmentNotFound   = "附件不存在"
	MsgAttachmentOpenFailed = "读取附件失败"

	// 工单相关
	MsgTicketNotFound  = "工单不存在"
	MsgTicketGetFailed = "获取工单详情失败"

	// Webhook 相关
	MsgWebhookInvalidBody = "通知负载格式错误"
)
