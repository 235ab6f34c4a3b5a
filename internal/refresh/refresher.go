package refresh

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/igcli/internal/display"
	"github.com/betbot/igcli/pkg/igapi"
	"github.com/betbot/igcli/pkg/periodic"
)

var log = logrus.WithField("module", "refresh")

// ConfigSource 提供当前会话的跟踪列表（返回副本）
type ConfigSource interface {
	Tracked() []string
}

// Refresher 四个刷新任务：拉取数据、格式化、整体覆盖对应的缓冲区
type Refresher struct {
	api   igapi.API
	cfg   ConfigSource
	board *display.Board
}

// New 创建刷新器
func New(api igapi.API, cfg ConfigSource, board *display.Board) *Refresher {
	return &Refresher{api: api, cfg: cfg, board: board}
}

// Jobs 交给会话管理器按代际启动的任务
func (r *Refresher) Jobs() []periodic.Job {
	return []periodic.Job{
		{Name: display.Positions, Action: r.Positions},
		{Name: display.Orders, Action: r.Orders},
		{Name: display.Trackers, Action: r.Trackers},
		{Name: display.Activity, Action: r.Activity},
	}
}

// Fence 把四个刷新缓冲区提升到 generation；clear 时同时清空内容。
// 之后更旧代际的写入都会被拒绝
func (r *Refresher) Fence(generation uint64, clear bool) {
	for _, b := range r.board.Refresh() {
		if clear {
			b.Reset(generation)
		} else {
			b.Seal(generation)
		}
	}
}

func (r *Refresher) publish(b *display.Buffer, generation uint64, text string) {
	if !b.Publish(generation, text) {
		log.WithFields(logrus.Fields{
			"buffer":     b.Name(),
			"generation": generation,
			"current":    b.Generation(),
		}).Debug("丢弃旧代际的写入")
	}
}

// Positions 刷新持仓
func (r *Refresher) Positions(ctx context.Context, generation uint64) error {
	positions, err := r.api.GetPositions(ctx)
	if err != nil {
		return errors.Wrap(err, "get positions")
	}
	r.publish(r.board.Positions, generation, FormatPositions(positions))
	return nil
}

// Orders 刷新挂单
func (r *Refresher) Orders(ctx context.Context, generation uint64) error {
	orders, err := r.api.GetWorkingOrders(ctx)
	if err != nil {
		return errors.Wrap(err, "get working orders")
	}
	r.publish(r.board.Orders, generation, FormatOrders(orders))
	return nil
}

// Trackers 刷新跟踪市场；列表为空时只输出标题，不请求接口
func (r *Refresher) Trackers(ctx context.Context, generation uint64) error {
	tracked := r.cfg.Tracked()
	if len(tracked) == 0 {
		r.publish(r.board.Trackers, generation, FormatTrackers(nil))
		return nil
	}
	snapshots, err := r.api.GetMarketSnapshots(ctx, tracked...)
	if err != nil {
		return errors.Wrap(err, "get market snapshots")
	}
	r.publish(r.board.Trackers, generation, FormatTrackers(snapshots))
	return nil
}

// Activity 刷新账户活动
func (r *Refresher) Activity(ctx context.Context, generation uint64) error {
	activities, err := r.api.GetActivity(ctx)
	if err != nil {
		return errors.Wrap(err, "get activity")
	}
	r.publish(r.board.Activity, generation, FormatActivities(activities))
	return nil
}
