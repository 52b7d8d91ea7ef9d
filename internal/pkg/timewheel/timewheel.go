package timewheel

import (
	"sync"
	"time"
)

// TimingWheel 固定槽数的时间轮。Add 和单次推进都是 O(1) 均摊，
// 用来代替每个 tick 扫全堆。槽只是近似排期，到期与否以条目自带的时间为准，
// 超出轮盘跨度的条目会落在取模后的槽里，靠外层的低频全量扫描兜底
type TimingWheel struct {
	mu       sync.Mutex
	interval time.Duration
	slots    [][]Entry
	// 已经处理到的刻度（FireAt 除以 interval 的商）
	lastTick int64
}

// Entry 轮盘上的一个唤醒条目
type Entry struct {
	Key    string
	FireAt time.Time
}

func New(slotCount int, interval time.Duration) *TimingWheel {
	if slotCount <= 0 {
		slotCount = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &TimingWheel{
		interval: interval,
		slots:    make([][]Entry, slotCount),
		lastTick: time.Now().UnixNano() / int64(interval),
	}
}

// Add 把唤醒时间落到对应槽上。已经过期的时间落在当前刻度，下一次推进即触发
func (w *TimingWheel) Add(key string, fireAt time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	tick := fireAt.UnixNano() / int64(w.interval)
	if tick <= w.lastTick {
		tick = w.lastTick + 1
	}
	idx := int(tick % int64(len(w.slots)))
	w.slots[idx] = append(w.slots[idx], Entry{Key: key, FireAt: fireAt})
}

// Advance 推进到 now 所在刻度，返回途经槽里已到期的条目。
// 同一个槽里属于后续圈次的条目会留在槽内等下一圈
func (w *TimingWheel) Advance(now time.Time) []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()

	nowTick := now.UnixNano() / int64(w.interval)
	if nowTick <= w.lastTick {
		return nil
	}

	// 最多绕一整圈，再多的槽也只是重复访问
	from := w.lastTick + 1
	if nowTick-from >= int64(len(w.slots)) {
		from = nowTick - int64(len(w.slots)) + 1
	}

	var due []Entry
	for t := from; t <= nowTick; t++ {
		idx := int(t % int64(len(w.slots)))
		remain := w.slots[idx][:0]
		for _, e := range w.slots[idx] {
			if e.FireAt.UnixNano()/int64(w.interval) <= nowTick {
				due = append(due, e)
			} else {
				remain = append(remain, e)
			}
		}
		w.slots[idx] = remain
	}
	w.lastTick = nowTick
	return due
}

// Occupancy 当前留在轮盘上的条目总数
func (w *TimingWheel) Occupancy() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	total := 0
	for _, s := range w.slots {
		total += len(s)
	}
	return total
}
