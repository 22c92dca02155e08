package server

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// WatchSignals 等待终止信号。第一个信号触发排空，排空期间再收到的信号只记录日志；
// 返回值为 Shutdown 的结果。ctx 被取消时直接返回 nil，不触发关闭。
func (h *Host) WatchSignals(ctx context.Context, sigCh <-chan os.Signal, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = h.drainTimeout
	}

	var done chan error
	for {
		select {
		case <-ctx.Done():
			if done == nil {
				return nil
			}
			// 排空已经开始，仍然等待其完成
			return <-done
		case sig, ok := <-sigCh:
			if !ok {
				sigCh = nil
				continue
			}
			fields := logrus.Fields{"action": "signal", "signal": sig.String()}
			if done != nil {
				h.logger.WithFields(fields).Warn("关闭流程已在进行，忽略重复信号")
				continue
			}
			h.logger.WithFields(fields).Info("收到终止信号，开始优雅关闭")
			done = make(chan error, 1)
			go func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
				defer cancel()
				done <- h.Shutdown(shutdownCtx)
			}()
		case err := <-done:
			return err
		}
	}
}
