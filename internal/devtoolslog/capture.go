package devtoolslog

import (
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"cdpnetgraph/pkg/model"
)

// Capture 实时采集统一事件流，可直接作为会话树的订阅者
type Capture struct {
	mu      sync.Mutex
	entries Log
}

// NewCapture 创建采集器
func NewCapture() *Capture {
	return &Capture{}
}

// Handle 追加一个事件
func (c *Capture) Handle(ev model.ProtocolEvent) {
	e := FromProtocolEvent(ev)
	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.mu.Unlock()
}

// Len 已采集条目数
func (c *Capture) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Log 返回已采集日志的快照
func (c *Capture) Log() Log {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(Log, len(c.entries))
	copy(out, c.entries)
	return out
}

// 可能携带头部的参数路径
var headerPaths = []string{
	"request.headers",
	"response.headers",
	"response.requestHeaders",
	"redirectResponse.headers",
	"redirectResponse.requestHeaders",
	"headers",
}

// Redact 删除日志中指定名称的请求/响应头（大小写不敏感），返回新日志，原日志不变
func Redact(l Log, names []string) Log {
	if len(names) == 0 {
		return l
	}
	deny := make(map[string]struct{}, len(names))
	for _, n := range names {
		deny[strings.ToLower(n)] = struct{}{}
	}

	out := make(Log, len(l))
	for i, e := range l {
		out[i] = e
		if !strings.HasPrefix(e.Method, "Network.") {
			continue
		}
		params := append([]byte(nil), e.Params...)
		changed := false
		for _, p := range headerPaths {
			h := gjson.GetBytes(params, p)
			if !h.IsObject() {
				continue
			}
			var drop []string
			h.ForEach(func(k, _ gjson.Result) bool {
				if _, ok := deny[strings.ToLower(k.String())]; ok {
					drop = append(drop, k.String())
				}
				return true
			})
			for _, k := range drop {
				next, err := sjson.DeleteBytes(params, p+"."+escapePath(k))
				if err != nil {
					continue
				}
				params = next
				changed = true
			}
		}
		if changed {
			out[i].Params = params
		}
	}
	return out
}

// escapePath 转义 gjson/sjson 路径中的特殊字符
func escapePath(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%', ':':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
