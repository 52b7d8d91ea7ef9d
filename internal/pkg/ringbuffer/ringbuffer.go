package ringbuffer

// Ring 有界环形缓冲。写满之后从尾部追加会挤掉最老的元素；
// 头部插入用于紧急内容，只改变顺序，自身不触发额外淘汰
type Ring[T any] struct {
	items []T
	cap   int
}

func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		items: make([]T, 0, capacity),
		cap:   capacity,
	}
}

// PushBack 尾部追加，满了淘汰最老的（头部）元素
func (r *Ring[T]) PushBack(v T) {
	if len(r.items) == r.cap {
		copy(r.items, r.items[1:])
		r.items[len(r.items)-1] = v
		return
	}
	r.items = append(r.items, v)
}

// PushFront 头部插入。满的时候挤掉尾部元素，让出一个位置
func (r *Ring[T]) PushFront(v T) {
	if len(r.items) == r.cap {
		copy(r.items[1:], r.items[:len(r.items)-1])
		r.items[0] = v
		return
	}
	r.items = append(r.items, v)
	copy(r.items[1:], r.items[:len(r.items)-1])
	r.items[0] = v
}

// Items 按头到尾的顺序返回快照
func (r *Ring[T]) Items() []T {
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

// Compact 只保留 keep 返回 true 的元素，保持原有顺序
func (r *Ring[T]) Compact(keep func(T) bool) {
	kept := r.items[:0]
	for _, v := range r.items {
		if keep(v) {
			kept = append(kept, v)
		}
	}
	// 清掉尾部残留的引用
	for i := len(kept); i < len(r.items); i++ {
		var zero T
		r.items[i] = zero
	}
	r.items = kept
}

func (r *Ring[T]) Len() int {
	return len(r.items)
}

func (r *Ring[T]) Cap() int {
	return r.cap
}
