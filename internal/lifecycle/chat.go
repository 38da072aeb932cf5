package lifecycle

import (
	"strings"

	"github.com/mmeshcher/remitdesk/internal/model"
)

// ChatAccess описывает доступ пользователя к чату сделки.
type ChatAccess struct {
	Visible  bool `json:"visible"`
	ReadOnly bool `json:"read_only"`
}

// Chat определяет видимость чата и возможность отправки сообщений.
// Агент видит чат только после принятия сделки.
func Chat(v model.Viewer, d model.Deal) ChatAccess {
	var visible bool
	switch v.Side {
	case model.SideAgent:
		visible = d.AcceptedAt != nil
	case model.SideClient, model.SideAdmin:
		visible = true
	}

	if !visible {
		return ChatAccess{}
	}

	return ChatAccess{
		Visible:  true,
		ReadOnly: !v.Actionable(),
	}
}

// AttachmentURL возвращает адрес вложения на CDN.
func AttachmentURL(cdnBase, filename string) string {
	if filename == "" {
		return ""
	}
	return strings.TrimRight(cdnBase, "/") + "/" + strings.TrimLeft(filename, "/")
}
