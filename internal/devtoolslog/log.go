// Package devtoolslog 定义 DevTools 日志（协议事件的有序数组）及其读写、
// 实时采集与脱敏。
package devtoolslog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tidwall/gjson"

	"cdpnetgraph/pkg/model"
)

// ErrInvalidLog 输入不是条目数组
var ErrInvalidLog = errors.New("devtools log must be a JSON array of entries")

// Entry 一条日志记录，即去掉实时元数据后的协议事件
type Entry struct {
	Method     string           `json:"method"`
	Params     json.RawMessage  `json:"params"`
	SessionID  model.SessionID  `json:"sessionId,omitempty"`
	TargetType model.TargetType `json:"targetType,omitempty"`
}

// Log 按到达顺序排列的日志
type Log []Entry

// FromProtocolEvent 把统一事件流中的事件转换为日志条目
func FromProtocolEvent(ev model.ProtocolEvent) Entry {
	params := ev.Params
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	return Entry{Method: ev.Method, Params: params, SessionID: ev.SessionID, TargetType: ev.TargetType}
}

// Parse 解析 JSON 日志。顶层不是数组时返回 ErrInvalidLog；
// 数组中不是对象或缺少 method 的元素被忽略，不影响其余条目。
func Parse(data []byte) (Log, error) {
	data = bytes.TrimSpace(data)
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidLog
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, ErrInvalidLog
	}

	var out Log
	root.ForEach(func(_, v gjson.Result) bool {
		if !v.IsObject() {
			return true
		}
		method := v.Get("method")
		if method.Type != gjson.String || method.String() == "" {
			return true
		}
		params := json.RawMessage("{}")
		if p := v.Get("params"); p.Exists() {
			params = json.RawMessage(p.Raw)
		}
		out = append(out, Entry{
			Method:     method.String(),
			Params:     params,
			SessionID:  model.SessionID(v.Get("sessionId").String()),
			TargetType: model.TargetType(v.Get("targetType").String()),
		})
		return true
	})
	return out, nil
}

// Read 从 reader 读取并解析日志
func Read(r io.Reader) (Log, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read devtools log: %w", err)
	}
	return Parse(data)
}

// ReadFile 读取日志文件
func ReadFile(path string) (Log, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read devtools log %s: %w", path, err)
	}
	l, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// Write 以 JSON 数组写出，每行一个条目
func Write(w io.Writer, l Log) error {
	if _, err := io.WriteString(w, "[\n"); err != nil {
		return err
	}
	for i, e := range l {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode entry %d (%s): %w", i, e.Method, err)
		}
		sep := ",\n"
		if i == len(l)-1 {
			sep = "\n"
		}
		if _, err := w.Write(append(b, sep...)); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "]\n")
	return err
}

// WriteFile 写出日志文件
func WriteFile(path string, l Log) error {
	var buf bytes.Buffer
	if err := Write(&buf, l); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write devtools log %s: %w", path, err)
	}
	return nil
}
