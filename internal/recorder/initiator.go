package recorder

import "cdpnetgraph/pkg/traffic"

type urlIndex map[string][]*traffic.NetworkRequest

func indexByURL(records []*traffic.NetworkRequest) urlIndex {
	idx := make(urlIndex, len(records))
	for _, rec := range records {
		idx[rec.URL] = append(idx[rec.URL], rec)
	}
	return idx
}

// resolveInitiators 为每条记录确定唯一的发起请求；无法唯一确定时保持为空
func resolveInitiators(records []*traffic.NetworkRequest) {
	idx := indexByURL(records)
	for _, rec := range records {
		if rec.RedirectSource != nil {
			rec.InitiatorRequest = rec.RedirectSource
			continue
		}
		rec.InitiatorRequest = chooseInitiator(rec, idx)
	}
	splicePreloads(records, idx)
}

// candidateURLs 声明的发起 URL 加上整条调用栈（含异步父栈）引用到的 URL
func candidateURLs(rec *traffic.NetworkRequest) []string {
	var urls []string
	seen := make(map[string]struct{})
	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	add(rec.Initiator.URL)
	if rec.Initiator.Stack != nil {
		for _, u := range rec.Initiator.Stack.URLs() {
			add(u)
		}
	}
	return urls
}

// startsBefore cause 严格早于 rec 开始，且若已知其响应头结束时间，不晚于 rec 开始
func startsBefore(cause, rec *traffic.NetworkRequest) bool {
	if cause == rec || !(cause.NetworkRequestTime < rec.NetworkRequestTime) {
		return false
	}
	if end, ok := cause.ResponseHeadersEnd(); ok && end > rec.NetworkRequestTime {
		return false
	}
	return true
}

func chooseInitiator(rec *traffic.NetworkRequest, idx urlIndex) *traffic.NetworkRequest {
	var candidates []*traffic.NetworkRequest
	seen := make(map[*traffic.NetworkRequest]struct{})
	for _, u := range candidateURLs(rec) {
		for _, c := range idx[u] {
			if !startsBefore(c, rec) {
				continue
			}
			if c.Failed {
				// 失败的候选只有在其为重定向链首、且链尾成功时才由链尾代替
				if c.RedirectSource != nil || c.RedirectDestination == nil {
					continue
				}
				terminal := c.RedirectTerminal()
				if terminal.Failed || !startsBefore(terminal, rec) {
					continue
				}
				c = terminal
			}
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			candidates = append(candidates, c)
		}
	}

	if len(candidates) > 1 {
		candidates = prefer(candidates, func(c *traffic.NetworkRequest) bool {
			return c.FrameID != "" && c.FrameID == rec.FrameID
		})
	}
	if len(candidates) > 1 {
		candidates = prefer(candidates, func(c *traffic.NetworkRequest) bool {
			return c.Resource == traffic.ResourceDocument
		})
	}
	if len(candidates) == 1 {
		return candidates[0]
	}
	return nil
}

// prefer 保留满足 keep 的候选；没有任何候选满足时原样返回
func prefer(candidates []*traffic.NetworkRequest, keep func(*traffic.NetworkRequest) bool) []*traffic.NetworkRequest {
	var out []*traffic.NetworkRequest
	for _, c := range candidates {
		if keep(c) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return candidates
	}
	return out
}

// splicePreloads 同 URL 的非预加载请求复用了已完成的预加载请求时，
// 把它的发起者改为该预加载请求
func splicePreloads(records []*traffic.NetworkRequest, idx urlIndex) {
	for _, rec := range records {
		if rec.IsLinkPreload || rec.RedirectSource != nil {
			continue
		}
		var preload *traffic.NetworkRequest
		matches := 0
		for _, c := range idx[rec.URL] {
			if c == rec || !c.IsLinkPreload || !c.Finished || c.Failed {
				continue
			}
			if !(c.NetworkRequestTime < rec.NetworkRequestTime) {
				continue
			}
			preload = c
			matches++
		}
		if matches == 1 {
			rec.InitiatorRequest = preload
		}
	}
}
