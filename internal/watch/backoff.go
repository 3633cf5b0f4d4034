package watch

import "time"

// Backoff 指数退避策略：从 initial 开始每次翻倍，封顶 max。
// 每个监听器持有自己的实例，不含真实计时逻辑，便于单独测试。
type Backoff struct {
	initial  time.Duration
	max      time.Duration
	next     time.Duration
	attempts int
}

// NewBackoff 创建退避策略。
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if max < initial {
		max = initial
	}
	return &Backoff{initial: initial, max: max, next: initial}
}

// Next 返回本次应等待的时长并推进到下一档。
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.attempts++
	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

// Reset 在连接成功后清零退避状态。
func (b *Backoff) Reset() {
	b.next = b.initial
	b.attempts = 0
}

// Attempts 返回自上次 Reset 以来的重试次数。
func (b *Backoff) Attempts() int { return b.attempts }
