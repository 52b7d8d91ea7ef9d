package idgen

import (
	"os"
	"time"

	"github.com/sony/sonyflake"
)

// 基准时间 - 2024年1月1日，在此之前生成的ID无意义
var startTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// New 创建审计记录使用的ID生成器。
// 单进程部署，机器号直接取进程号低16位，不依赖内网IP
func New() *sonyflake.Sonyflake {
	return sonyflake.NewSonyflake(sonyflake.Settings{
		StartTime: startTime,
		MachineID: func() (uint16, error) {
			return uint16(os.Getpid()), nil
		},
	})
}
