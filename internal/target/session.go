package target

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/mafredri/cdp/rpcc"

	"cdpnetgraph/internal/bus"
	"cdpnetgraph/pkg/model"
)

// Session 一条已附加的调试通道，由传输层提供
type Session interface {
	ID() model.SessionID
	// Send 发送命令并阻塞等待响应
	Send(ctx context.Context, method string, params any) (json.RawMessage, error)
	// Subscribe 订阅该会话的全部事件
	Subscribe(fn func(model.ProtocolEvent)) bus.Unsubscription
	// OnSessionAttached 浏览器通过该会话自动附加子目标时回调
	OnSessionAttached(fn func(Session)) bus.Unsubscription
	// OnSessionDetached 子会话分离时回调
	OnSessionDetached(fn func(model.SessionID)) bus.Unsubscription
}

// CDP 方法不存在
const codeMethodNotFound = -32601

var targetClosedMarkers = []string{
	"Target closed",
	"Session closed",
	"Session with given id not found",
	"No target with given id",
	"No session with given id",
}

// IsTargetClosed 目标在调用过程中被关闭，属于附加/分离竞态
func IsTargetClosed(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range targetClosedMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsUnsupported 目标类型不支持该域/命令
func IsUnsupported(err error) bool {
	if err == nil {
		return false
	}
	var re *rpcc.ResponseError
	if errors.As(err, &re) && re.Code == codeMethodNotFound {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "wasn't found") || strings.Contains(msg, "not supported")
}
