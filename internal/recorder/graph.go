package recorder

import (
	"fmt"

	"cdpnetgraph/pkg/traffic"
)

// cloneAll 复制累积中的记录，重定向关系指向副本；派生字段清空后由 finalize 重新计算
func cloneAll(src []*traffic.NetworkRequest) []*traffic.NetworkRequest {
	out := make([]*traffic.NetworkRequest, len(src))
	byOrig := make(map[*traffic.NetworkRequest]*traffic.NetworkRequest, len(src))
	for i, s := range src {
		c := *s
		if s.ResponseHeaders != nil {
			c.ResponseHeaders = make(traffic.Header, len(s.ResponseHeaders))
			for k, v := range s.ResponseHeaders {
				c.ResponseHeaders[k] = v
			}
		}
		if s.ResponseHeadersEndTime != nil {
			c.ResponseHeadersEndTime = ptr(*s.ResponseHeadersEndTime)
		}
		if s.NetworkEndTime != nil {
			c.NetworkEndTime = ptr(*s.NetworkEndTime)
		}
		c.Redirects = nil
		c.InitiatorRequest = nil
		c.IsMainFrame = nil
		c.HostedStatistics = nil
		out[i] = &c
		byOrig[s] = &c
	}
	for _, c := range out {
		if c.RedirectSource != nil {
			c.RedirectSource = byOrig[c.RedirectSource]
		}
		if c.RedirectDestination != nil {
			c.RedirectDestination = byOrig[c.RedirectDestination]
		}
	}
	return out
}

// finalize 在副本上计算时间归一化与全部跨请求关系
func finalize(records []*traffic.NetworkRequest, mainFrame string, opts Options) error {
	clampRedirects(records)
	for _, rec := range records {
		dropInvalidDurations(rec)
	}

	linkRedirects(records)
	resolveInitiators(records)

	for _, rec := range records {
		if opts.NavigationMode {
			isMain := mainFrame != "" && rec.FrameID == mainFrame
			rec.IsMainFrame = &isMain
		}
		if opts.HostedEnvironment {
			applyHosted(rec, opts)
		}
	}

	rebase(records)
	return checkAcyclic(records)
}

// linkRedirects 只在链尾记录此前的所有跳，最早的在前
func linkRedirects(records []*traffic.NetworkRequest) {
	for _, rec := range records {
		if rec.RedirectSource == nil || rec.RedirectDestination != nil {
			continue
		}
		var chain []*traffic.NetworkRequest
		for cur := rec.RedirectSource; cur != nil; cur = cur.RedirectSource {
			chain = append(chain, cur)
		}
		for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
			chain[i], chain[j] = chain[j], chain[i]
		}
		rec.Redirects = chain
	}
}

// checkAcyclic 沿"由谁引起"的方向（InitiatorRequest 与 RedirectSource）检查是否有环
func checkAcyclic(records []*traffic.NetworkRequest) error {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[*traffic.NetworkRequest]int, len(records))
	for _, start := range records {
		if state[start] == done {
			continue
		}
		// 每个节点至多两条出边，迭代遍历避免长链上的深递归
		type frame struct {
			node *traffic.NetworkRequest
			next int
		}
		stack := []frame{{node: start}}
		state[start] = visiting
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			var edge *traffic.NetworkRequest
			for edge == nil && top.next < 2 {
				if top.next == 0 {
					edge = top.node.InitiatorRequest
				} else {
					edge = top.node.RedirectSource
				}
				top.next++
			}
			if edge == nil {
				state[top.node] = done
				stack = stack[:len(stack)-1]
				continue
			}
			switch state[edge] {
			case visiting:
				return fmt.Errorf("%w: request %s", ErrInitiatorCycle, edge.RequestID)
			case done:
				continue
			}
			state[edge] = visiting
			stack = append(stack, frame{node: edge})
		}
	}
	return nil
}
