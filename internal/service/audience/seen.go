package audience

import (
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// SeenConfig 去重过滤器的容量参数。
// 按经典公式 m = -n*ln(p)/(ln2)^2 定容，k 个哈希函数由库推导
type SeenConfig struct {
	ExpectedInsertions uint    `json:"expectedInsertions"`
	FalsePositiveRate  float64 `json:"falsePositiveRate"`
}

const (
	defaultExpectedInsertions = 1_000_000
	defaultFalsePositiveRate  = 0.01
)

// seenFilter 记录 (用户, 公告) 是否展示过。
// 保证没有假阴性：标记过的一定报告已看过。假阳性是刻意保留的代价，
// 会导致极少数没看过的用户被当成看过而不再推送，换取常数级的去重判断
type seenFilter struct {
	mu     sync.Mutex
	cfg    SeenConfig
	filter *bloom.BloomFilter
}

func newSeenFilter(cfg SeenConfig) *seenFilter {
	if cfg.ExpectedInsertions == 0 {
		cfg.ExpectedInsertions = defaultExpectedInsertions
	}
	if cfg.FalsePositiveRate <= 0 || cfg.FalsePositiveRate >= 1 {
		cfg.FalsePositiveRate = defaultFalsePositiveRate
	}
	return &seenFilter{
		cfg:    cfg,
		filter: bloom.NewWithEstimates(cfg.ExpectedInsertions, cfg.FalsePositiveRate),
	}
}

// 键的拼法与幂等键一致：业务域内唯一的复合键
func seenKey(userID, noticeID string) string {
	return fmt.Sprintf("%s:%s", userID, noticeID)
}

func (f *seenFilter) Mark(userID, noticeID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter.AddString(seenKey(userID, noticeID))
}

func (f *seenFilter) Has(userID, noticeID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filter.TestString(seenKey(userID, noticeID))
}

func (f *seenFilter) Approximate() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filter.ApproximatedSize()
}
