package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"golang.org/x/time/rate"

	"peershare/internal/protocol"
)

// Run 开始做种、周期 announce，并为所有未完成的文件启动下载任务
// 立即返回；调用 Shutdown 停止。handler 可以为 nil
func (c *Client) Run(handler Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running.Load() {
		return errors.New("client is already running")
	}

	ln, err := net.Listen("tcp4", c.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.cfg.ListenAddr, err)
	}
	c.ln = ln
	c.port = uint16(ln.Addr().(*net.TCPAddr).Port)
	c.handler = handler
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.conns = make(map[net.Conn]struct{})
	c.downloads = make(map[int32]struct{})
	c.kick = make(chan struct{}, 1)

	burst := c.cfg.AnnounceBurst
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if c.cfg.AnnounceMinGap > 0 {
		limit = rate.Every(c.cfg.AnnounceMinGap)
	}
	c.limiter = rate.NewLimiter(limit, burst)

	c.running.Store(true)
	c.logger.Info().Uint16("port", c.port).Str("tracker", c.cfg.TrackerAddr()).Msg("🚀 client running")

	c.loops.Add(2)
	go c.acceptLoop(ln)
	go c.announceLoop(c.ctx)

	for _, f := range c.state.Files() {
		c.startDownloadLocked(f)
	}
	return nil
}

// Port 做种监听端口，未运行时为 0
func (c *Client) Port() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running.Load() {
		return 0
	}
	return c.port
}

// Shutdown 停止监听与 announce，等待下载任务退出，然后保存状态
func (c *Client) Shutdown() error {
	c.mu.Lock()
	if !c.running.Load() {
		c.mu.Unlock()
		return c.saveState(context.Background())
	}
	c.running.Store(false)
	c.cancel()
	c.ln.Close()
	for conn := range c.conns {
		conn.Close()
	}
	c.mu.Unlock()

	c.loops.Wait()
	c.tasks.Wait()

	if err := c.saveState(context.Background()); err != nil {
		return err
	}
	c.logger.Info().Msg("client stopped, state saved")
	return nil
}

// announceLoop 启动时立即 announce，之后按周期（加抖动）或被 triggerAnnounce 唤醒
func (c *Client) announceLoop(ctx context.Context) {
	defer c.loops.Done()

	c.announce(ctx)
	timer := time.NewTimer(withJitter(c.cfg.AnnounceInterval, c.cfg.AnnounceJitter))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			c.announce(ctx)
			timer.Reset(withJitter(c.cfg.AnnounceInterval, c.cfg.AnnounceJitter))
		case <-c.kick:
			c.announce(ctx)
		}
	}
}

// announce 上报监听端口与至少持有一个分片的文件
func (c *Client) announce(ctx context.Context) {
	ids := c.state.HeldIDs()
	ev := TrackerAnnounced{Port: c.port, FileIDs: ids}

	ok, err := c.tracker.Update(ctx, c.port, ids)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		ev.Err = err
	case !ok:
		ev.Err = fmt.Errorf("tracker did not acknowledge announce: %w", protocol.ErrProtocol)
	}
	c.emit(ev)
}

// triggerAnnounce 请求一次额外的 announce，受限流器约束，超出时等下一个周期
func (c *Client) triggerAnnounce() {
	if !c.running.Load() {
		return
	}
	if !c.limiter.Allow() {
		c.logger.Debug().Msg("extra announce rate limited")
		return
	}
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// backoff 等待重试间隔，ctx 取消时返回 false
func (c *Client) backoff(ctx context.Context) bool {
	t := time.NewTimer(withJitter(c.cfg.RetryDelay, c.cfg.RetryJitter))
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func withJitter(d, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return d
	}
	return d + rand.N(jitter)
}
