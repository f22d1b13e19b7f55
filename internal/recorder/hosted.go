package recorder

import (
	"strconv"
	"strings"

	"cdpnetgraph/pkg/traffic"
)

// 托管环境的耗时拆分头部，毫秒
var hostedTimingHeaders = []string{"X-TCPMs", "X-SSLMs", "X-RequestMs", "X-ResponseMs"}

// applyHosted 用托管环境的自定义头部覆盖大小字段，并提取耗时拆分。
// 只改写大小与统计字段，不影响请求图。
func applyHosted(rec *traffic.NetworkRequest, opts Options) {
	h := rec.ResponseHeaders
	if h == nil {
		return
	}
	if n, ok := headerNumber(h, opts.TransferSizeHeader); ok {
		rec.TransferSize = int64(n)
	}
	if n, ok := headerNumber(h, opts.ResourceSizeHeader); ok {
		rec.ResourceSize = int64(n)
	}

	values := make([]float64, len(hostedTimingHeaders))
	for i, name := range hostedTimingHeaders {
		n, ok := headerNumber(h, name)
		if !ok {
			return
		}
		values[i] = n
	}
	rec.HostedStatistics = &traffic.HostedStatistics{
		TCPMs:      values[0],
		SSLMs:      values[1],
		RequestMs:  values[2],
		ResponseMs: values[3],
	}
	for _, name := range hostedTimingHeaders {
		h.Del(name)
	}
}

func headerNumber(h traffic.Header, name string) (float64, bool) {
	v, ok := h.Lookup(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
