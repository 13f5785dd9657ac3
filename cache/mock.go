package cache

import (
	"sync"
)

// 模拟模式相关变量：Redis不可达时退化为进程内存储，
// 保证单实例部署不依赖外部组件
var (
	mockMode  bool
	mockMutex sync.Mutex
	mockData  = make(map[string]string)
	mockBloom = make(map[string]bool)
)

// resetMockState 清空模拟数据，测试用
func resetMockState() {
	mockMutex.Lock()
	defer mockMutex.Unlock()

	mockData = make(map[string]string)
	mockBloom = make(map[string]bool)
}
