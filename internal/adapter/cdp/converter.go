package cdp

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/tidwall/gjson"

	"cdpnetgraph/pkg/traffic"
)

// ToHeader 将 CDP 的 Network.Headers 对象转换为中立 Header，名称统一小写
func ToHeader(raw gjson.Result) traffic.Header {
	if !raw.IsObject() {
		return nil
	}
	h := make(traffic.Header)
	raw.ForEach(func(k, v gjson.Result) bool {
		h.Set(k.String(), v.String())
		return true
	})
	return h
}

// ToInitiator 将 Network.Initiator 转换为中立 Initiator。
// 结构不合法时退化为只保留 type/url。
func ToInitiator(raw gjson.Result) traffic.Initiator {
	if !raw.IsObject() {
		return traffic.Initiator{Type: "other"}
	}
	var in network.Initiator
	if err := json.Unmarshal([]byte(raw.Raw), &in); err != nil {
		return traffic.Initiator{Type: raw.Get("type").String(), URL: raw.Get("url").String()}
	}
	out := traffic.Initiator{
		Type:       in.Type,
		LineNumber: in.LineNumber,
		Stack:      ToStackTrace(in.Stack),
	}
	if in.URL != nil {
		out.URL = *in.URL
	}
	if in.RequestID != nil {
		out.RequestID = string(*in.RequestID)
	}
	return out
}

// ToStackTrace 转换 Runtime.StackTrace，保留异步父栈链
func ToStackTrace(st *runtime.StackTrace) *traffic.StackTrace {
	if st == nil {
		return nil
	}
	out := &traffic.StackTrace{CallFrames: make([]traffic.CallFrame, 0, len(st.CallFrames))}
	if st.Description != nil {
		out.Description = *st.Description
	}
	for _, f := range st.CallFrames {
		out.CallFrames = append(out.CallFrames, traffic.CallFrame{
			FunctionName: f.FunctionName,
			ScriptID:     string(f.ScriptID),
			URL:          f.URL,
			LineNumber:   f.LineNumber,
			ColumnNumber: f.ColumnNumber,
		})
	}
	out.Parent = ToStackTrace(st.Parent)
	return out
}

// ValidURL 请求 URL 必须带 scheme 且可解析
func ValidURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return false
	}
	return true
}

// IsSecureScheme 是否为加密传输
func IsSecureScheme(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		return true
	}
	return false
}
