// Package clock 提供可注入的时钟，所有取 now 的路径都经由它，
// 便于用假时钟做确定性的到期测试。
package clock

import (
	"sync"
	"time"
)

// Clock 时间来源
type Clock interface {
	Now() time.Time
}

// Real 系统时钟
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Fake 测试用可控时钟
type Fake struct {
	mu      sync.Mutex
	current time.Time
}

// NewFake 以 start 为初始时刻创建假时钟
func NewFake(start time.Time) *Fake {
	return &Fake{current: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Set 直接设置当前时刻
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.current = t
	f.mu.Unlock()
}

// Advance 前进 d 并返回新的当前时刻
func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	f.current = f.current.Add(d)
	t := f.current
	f.mu.Unlock()
	return t
}
