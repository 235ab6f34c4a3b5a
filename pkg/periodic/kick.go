package periodic

// kick 是一个非阻塞的信号 channel
// 用于让任务提前执行一次，不传递数据；多次触发会合并成一次
type kick struct {
	c chan struct{}
}

func newKick() *kick {
	return &kick{c: make(chan struct{}, 1)}
}

// emit 发送信号（非阻塞），已有未消费的信号时直接丢弃
func (k *kick) emit() {
	select {
	case k.c <- struct{}{}:
	default:
	}
}

func (k *kick) C() <-chan struct{} {
	return k.c
}
