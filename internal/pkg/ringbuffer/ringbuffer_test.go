package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRing_PushBack(t *testing.T) {
	t.Parallel()

	r := New[int](3)
	r.PushBack(1)
	r.PushBack(2)
	r.PushBack(3)
	assert.Equal(t, []int{1, 2, 3}, r.Items())

	// 写满之后挤掉最老的
	r.PushBack(4)
	assert.Equal(t, []int{2, 3, 4}, r.Items())
	assert.Equal(t, 3, r.Len())
}

func TestRing_PushFront(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		before []int
		push   int
		want   []int
	}{
		{
			name:   "未满时头部插入",
			before: []int{1, 2},
			push:   9,
			want:   []int{9, 1, 2},
		},
		{
			name:   "写满时挤掉尾部",
			before: []int{1, 2, 3},
			push:   9,
			want:   []int{9, 1, 2},
		},
		{
			name:   "空缓冲",
			before: nil,
			push:   9,
			want:   []int{9},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := New[int](3)
			for _, v := range tc.before {
				r.PushBack(v)
			}
			r.PushFront(tc.push)
			assert.Equal(t, tc.want, r.Items())
		})
	}
}

func TestRing_Compact(t *testing.T) {
	t.Parallel()

	r := New[int](5)
	for i := 1; i <= 5; i++ {
		r.PushBack(i)
	}
	r.Compact(func(v int) bool { return v%2 == 0 })
	assert.Equal(t, []int{2, 4}, r.Items())

	// 压缩后继续追加仍然正常
	r.PushBack(6)
	assert.Equal(t, []int{2, 4, 6}, r.Items())
}

func TestRing_ZeroCapacity(t *testing.T) {
	t.Parallel()

	// 非法容量退化为1，不会panic
	r := New[int](0)
	r.PushBack(1)
	r.PushBack(2)
	assert.Equal(t, []int{2}, r.Items())
	assert.Equal(t, 1, r.Cap())
}
