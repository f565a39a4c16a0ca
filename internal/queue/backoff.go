package queue

import "time"

// retryBackoff は失敗した回数に応じた再配信までの待ち時間を返す。
// 1回目はbase、以降2倍ずつ増加し、maxDelayで頭打ちになる。
func retryBackoff(base, maxDelay time.Duration, failures int) time.Duration {
	delay := base
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
