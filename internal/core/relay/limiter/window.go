package limiter

import "time"

// window 滑动窗口
//
// stamps 按时间升序。limit > 0 时最多保留 2*limit+1 个时间戳，
// 足以判断准入与 2 倍超限信号；limit <= 0 不限制，也不保存时间戳。
type window struct {
	span     time.Duration
	limit    int
	stamps   []time.Time
	lastSeen time.Time
}

func newWindow(span time.Duration, limit int) *window {
	return &window{span: span, limit: limit}
}

// allow 剪除、比较、记录；返回是否准入以及记录后窗口内的尝试数
func (w *window) allow(now time.Time) (bool, int) {
	w.lastSeen = now
	if w.limit <= 0 {
		return true, 0
	}

	w.prune(now)
	ok := len(w.stamps) < w.limit

	w.stamps = append(w.stamps, now)
	if excess := len(w.stamps) - (2*w.limit + 1); excess > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[excess:]...)
	}
	return ok, len(w.stamps)
}

// prune 丢弃不晚于 now-span 的时间戳
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// idle 自最后一次尝试以来是否超过 d
func (w *window) idle(now time.Time, d time.Duration) bool {
	return now.Sub(w.lastSeen) > d
}
