package domain

// UserAttributes 注册进定向索引的用户属性，重复注册时整体覆盖
type UserAttributes struct {
	UserID             string
	Role               string
	Department         string
	Location           string
	Language           string
	DeviceCapabilities []string
	Tags               []string
}

// AudienceRule 受众圈选规则。某个维度为空表示该维度不设限制；
// 全部维度为空时命中所有已注册用户。规则挂在公告上，挂上之后不可变
type AudienceRule struct {
	Departments []string
	Roles       []string
	Locations   []string
	Tags        []string
	Topics      []string
}

// IsEmpty 所有维度均为空
func (r AudienceRule) IsEmpty() bool {
	return len(r.Departments) == 0 && len(r.Roles) == 0 &&
		len(r.Locations) == 0 && len(r.Tags) == 0 && len(r.Topics) == 0
}

// AudienceStats 定向索引的聚合统计
type AudienceStats struct {
	TotalUsers         int
	DepartmentCount    int
	RoleCount          int
	LocationCount      int
	TagTermCount       int
	SeenApproximate    uint32
	SeenFalsePositive  float64
	SeenExpectedInsert uint
}
