package audience

import (
	"sort"
	"sync"

	"gitee.com/flycash/bulletin-platform/internal/domain"
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/gotomicro/ego/core/elog"
)

// Service 受众定向索引。回答"哪些用户命中这条规则"以及"这个用户是否已经看过这条公告"。
// 查询不会报错：未知的取值一律按空结果处理
type Service interface {
	// RegisterUser 幂等注册。重复注册整体覆盖属性，
	// 但不会清除旧取值在位图里的成员关系，这是已知并已接受的局限
	RegisterUser(attrs domain.UserAttributes)
	// FindEligibleUsers 按维度做并集、跨维度做交集，标签作为最后的精确过滤
	FindEligibleUsers(rule domain.AudienceRule) []string
	// SearchUsersByTag 给定标签的倒排并集
	SearchUsersByTag(tags []string) []string
	HasSeenNotice(userID, noticeID string) bool
	MarkNoticeSeen(userID, noticeID string)
	Stats() domain.AudienceStats
}

type service struct {
	mu sync.RWMutex
	// 用户第一次出现时分配稠密整数ID，位图运算需要
	ids   map[string]uint32
	users []string
	// (维度, 取值) -> 成员位图
	departments map[string]*roaring.Bitmap
	roles       map[string]*roaring.Bitmap
	locations   map[string]*roaring.Bitmap
	// 标签走精确匹配倒排，不进位图代数
	tagIndex map[string]map[string]struct{}

	seen   *seenFilter
	logger *elog.Component
}

func NewService(seenCfg SeenConfig) Service {
	return &service{
		ids:         make(map[string]uint32),
		departments: make(map[string]*roaring.Bitmap),
		roles:       make(map[string]*roaring.Bitmap),
		locations:   make(map[string]*roaring.Bitmap),
		tagIndex:    make(map[string]map[string]struct{}),
		seen:        newSeenFilter(seenCfg),
		logger:      elog.DefaultLogger,
	}
}

func (s *service) RegisterUser(attrs domain.UserAttributes) {
	if attrs.UserID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.ids[attrs.UserID]
	if !ok {
		id = uint32(len(s.users))
		s.ids[attrs.UserID] = id
		s.users = append(s.users, attrs.UserID)
	}

	addMember(s.departments, attrs.Department, id)
	addMember(s.roles, attrs.Role, id)
	addMember(s.locations, attrs.Location, id)

	for _, tag := range attrs.Tags {
		if tag == "" {
			continue
		}
		postings, ok := s.tagIndex[tag]
		if !ok {
			postings = make(map[string]struct{})
			s.tagIndex[tag] = postings
		}
		postings[attrs.UserID] = struct{}{}
	}
}

func addMember(dim map[string]*roaring.Bitmap, value string, id uint32) {
	if value == "" {
		return
	}
	bm, ok := dim[value]
	if !ok {
		bm = roaring.New()
		dim[value] = bm
	}
	bm.Add(id)
}

func (s *service) FindEligibleUsers(rule domain.AudienceRule) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// 每个非空维度先做取值并集，再跨维度求交集。
	// 空维度不参与，等价于"该维度全量"，不需要物化全量位图
	var dims []*roaring.Bitmap
	if bm := unionOf(s.departments, rule.Departments); bm != nil {
		dims = append(dims, bm)
	}
	if bm := unionOf(s.roles, rule.Roles); bm != nil {
		dims = append(dims, bm)
	}
	if bm := unionOf(s.locations, rule.Locations); bm != nil {
		dims = append(dims, bm)
	}

	var candidates []string
	switch {
	case len(dims) > 0:
		candidates = s.toUserIDs(roaring.FastAnd(dims...))
	default:
		// 位图维度全空：候选集是全部已注册用户
		candidates = make([]string, len(s.users))
		copy(candidates, s.users)
	}

	// 标签和订阅主题都落在倒排索引里，作为最后的精确过滤，
	// 不参与位图代数
	terms := make([]string, 0, len(rule.Tags)+len(rule.Topics))
	terms = append(terms, rule.Tags...)
	terms = append(terms, rule.Topics...)
	if len(terms) == 0 {
		return candidates
	}

	out := make([]string, 0, len(candidates))
	for _, userID := range candidates {
		if s.hasAnyTagLocked(userID, terms) {
			out = append(out, userID)
		}
	}
	return out
}

// unionOf 非空取值列表的位图并集；values 为空返回 nil 表示该维度不设限
func unionOf(dim map[string]*roaring.Bitmap, values []string) *roaring.Bitmap {
	if len(values) == 0 {
		return nil
	}
	bitmaps := make([]*roaring.Bitmap, 0, len(values))
	for _, v := range values {
		if bm, ok := dim[v]; ok {
			bitmaps = append(bitmaps, bm)
		}
	}
	if len(bitmaps) == 0 {
		// 维度有限制但没有任何已知取值，命中为空
		return roaring.New()
	}
	return roaring.FastOr(bitmaps...)
}

func (s *service) toUserIDs(bm *roaring.Bitmap) []string {
	out := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		id := it.Next()
		if int(id) < len(s.users) {
			out = append(out, s.users[id])
		}
	}
	return out
}

func (s *service) hasAnyTagLocked(userID string, terms []string) bool {
	for _, term := range terms {
		if postings, ok := s.tagIndex[term]; ok {
			if _, hit := postings[userID]; hit {
				return true
			}
		}
	}
	return false
}

func (s *service) SearchUsersByTag(tags []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hit := make(map[string]struct{})
	for _, tag := range tags {
		for userID := range s.tagIndex[tag] {
			hit[userID] = struct{}{}
		}
	}
	out := make([]string, 0, len(hit))
	for userID := range hit {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

func (s *service) HasSeenNotice(userID, noticeID string) bool {
	return s.seen.Has(userID, noticeID)
}

func (s *service) MarkNoticeSeen(userID, noticeID string) {
	s.seen.Mark(userID, noticeID)
}

func (s *service) Stats() domain.AudienceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return domain.AudienceStats{
		TotalUsers:         len(s.users),
		DepartmentCount:    len(s.departments),
		RoleCount:          len(s.roles),
		LocationCount:      len(s.locations),
		TagTermCount:       len(s.tagIndex),
		SeenApproximate:    s.seen.Approximate(),
		SeenFalsePositive:  s.seen.cfg.FalsePositiveRate,
		SeenExpectedInsert: s.seen.cfg.ExpectedInsertions,
	}
}
