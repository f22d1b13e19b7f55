package recorder

import (
	"math"

	"github.com/tidwall/gjson"

	"cdpnetgraph/pkg/traffic"
)

// applyResourceTiming 用 Network.ResourceTiming 修正请求开始与响应头结束时间。
// requestTime 单位秒，receiveHeadersEnd 为相对 requestTime 的毫秒偏移。
func applyResourceTiming(rec *traffic.NetworkRequest, timing gjson.Result) {
	if !timing.IsObject() {
		return
	}
	requestTime, ok := number(timing.Get("requestTime"))
	if !ok || requestTime <= 0 {
		return
	}
	recv, ok := number(timing.Get("receiveHeadersEnd"))
	if !ok || recv == -1 {
		return
	}

	rec.NetworkRequestTime = requestTime
	if recv < 0 {
		rec.ResponseHeadersEndTime = nil
		return
	}
	headersReceived := requestTime + recv/1000
	if rec.ResponseHeadersEndTime == nil || *rec.ResponseHeadersEndTime > headersReceived {
		rec.ResponseHeadersEndTime = ptr(headersReceived)
	}
}

// clampHeadersEnd 响应头结束不晚于请求结束
func clampHeadersEnd(rec *traffic.NetworkRequest) {
	headersEnd, ok := rec.ResponseHeadersEnd()
	if !ok {
		return
	}
	if end, ok := rec.NetworkEnd(); ok && headersEnd > end {
		rec.ResponseHeadersEndTime = ptr(end)
	}
}

// clampRedirects 重定向的下一跳不早于上一跳开始。
// records 按首次出现排序，上一跳总在下一跳之前。
func clampRedirects(records []*traffic.NetworkRequest) {
	for _, rec := range records {
		src := rec.RedirectSource
		if src == nil {
			continue
		}
		if rec.NetworkRequestTime < src.NetworkRequestTime {
			rec.NetworkRequestTime = src.NetworkRequestTime
		}
		if rec.RendererStartTime < src.RendererStartTime {
			rec.RendererStartTime = src.RendererStartTime
		}
	}
}

// dropInvalidDurations 非有限值或早于请求开始的时间点视为未知
func dropInvalidDurations(rec *traffic.NetworkRequest) {
	start := rec.NetworkRequestTime
	valid := func(v *float64) *float64 {
		if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) || *v < start {
			return nil
		}
		return v
	}
	rec.ResponseHeadersEndTime = valid(rec.ResponseHeadersEndTime)
	rec.NetworkEndTime = valid(rec.NetworkEndTime)
	if rec.NetworkEndTime != nil && rec.ResponseHeadersEndTime != nil && *rec.ResponseHeadersEndTime > *rec.NetworkEndTime {
		rec.ResponseHeadersEndTime = ptr(*rec.NetworkEndTime)
	}
}

// rebase 以最早的 NetworkRequestTime 为零点
func rebase(records []*traffic.NetworkRequest) {
	if len(records) == 0 {
		return
	}
	base := math.Inf(1)
	for _, rec := range records {
		base = math.Min(base, rec.NetworkRequestTime)
	}
	for _, rec := range records {
		rec.RendererStartTime -= base
		rec.NetworkRequestTime -= base
		if rec.ResponseHeadersEndTime != nil {
			rec.ResponseHeadersEndTime = ptr(*rec.ResponseHeadersEndTime - base)
		}
		if rec.NetworkEndTime != nil {
			rec.NetworkEndTime = ptr(*rec.NetworkEndTime - base)
		}
	}
}
