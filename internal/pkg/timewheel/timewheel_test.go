package timewheel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keysOf(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Key)
	}
	return out
}

func TestTimingWheel_AddAndAdvance(t *testing.T) {
	t.Parallel()

	w := New(60, time.Second)
	now := time.Now()

	w.Add("a", now.Add(time.Second))
	w.Add("b", now.Add(2*time.Second))
	w.Add("far", now.Add(30*time.Second))
	assert.Equal(t, 3, w.Occupancy())

	// 推进1秒只触发a
	due := w.Advance(now.Add(time.Second))
	assert.Equal(t, []string{"a"}, keysOf(due))

	// 再推进到2秒触发b，far留在轮上
	due = w.Advance(now.Add(2 * time.Second))
	assert.Equal(t, []string{"b"}, keysOf(due))
	assert.Equal(t, 1, w.Occupancy())
}

func TestTimingWheel_PastFireTime(t *testing.T) {
	t.Parallel()

	w := New(60, time.Second)
	now := time.Now()

	// 已经过期的时间落在下一个刻度，下一次推进即触发
	w.Add("late", now.Add(-10*time.Second))
	due := w.Advance(now.Add(2 * time.Second))
	assert.Equal(t, []string{"late"}, keysOf(due))
}

func TestTimingWheel_WrapAround(t *testing.T) {
	t.Parallel()

	// 槽数只有4，超出跨度的条目取模落槽，靠圈次判断避免提前触发
	w := New(4, time.Second)
	now := time.Now()

	w.Add("next-lap", now.Add(5*time.Second))
	due := w.Advance(now.Add(time.Second))
	require.Empty(t, due)

	due = w.Advance(now.Add(5 * time.Second))
	assert.Equal(t, []string{"next-lap"}, keysOf(due))
}

func TestTimingWheel_AdvanceNoProgress(t *testing.T) {
	t.Parallel()

	w := New(8, time.Second)
	now := time.Now()
	w.Add("x", now.Add(time.Second))

	// 时间没有跨过刻度就不触发任何条目
	assert.Empty(t, w.Advance(now))
	assert.Equal(t, 1, w.Occupancy())
}
