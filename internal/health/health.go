package health

import (
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
)

// Checker 健康检查器
//
// 存活检查看进程自身状态，就绪检查探测上游中继是否可达。
type Checker struct {
	handler   healthcheck.Handler
	relayAddr string
}

// NewChecker 创建健康检查器
func NewChecker(relayAddr string) *Checker {
	c := &Checker{
		handler:   healthcheck.NewHandler(),
		relayAddr: relayAddr,
	}

	// 协程数异常增长通常意味着会话泄漏
	c.handler.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(500))

	// 中继不可达时摘除流量
	c.handler.AddReadinessCheck("relay", healthcheck.TCPDialCheck(relayAddr, 3*time.Second))

	return c
}

// LiveEndpoint 存活检查处理函数
func (c *Checker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	c.handler.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查处理函数
func (c *Checker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	c.handler.ReadyEndpoint(w, r)
}

// Summary 返回简要健康状态
func (c *Checker) Summary() map[string]string {
	return map[string]string{
		"status":    "ok",
		"relay":     c.relayAddr,
		"timestamp": time.Now().Format(time.RFC3339),
	}
}
