package display

// 缓冲区名称
const (
	Positions = "positions"
	Orders    = "orders"
	Trackers  = "trackers"
	Activity  = "activity"
	Status    = "status"
)

// Board 面板上所有的缓冲区：四个刷新任务各一个、状态栏一个、操作消息一个
type Board struct {
	Positions *Buffer
	Orders    *Buffer
	Trackers  *Buffer
	Activity  *Buffer
	Status    *Buffer
	Messages  *MessageLog
}

// NewBoard 创建面板
func NewBoard() *Board {
	return &Board{
		Positions: NewBuffer(Positions),
		Orders:    NewBuffer(Orders),
		Trackers:  NewBuffer(Trackers),
		Activity:  NewBuffer(Activity),
		Status:    NewBuffer(Status),
		Messages:  NewMessageLog(DefaultMessageLines),
	}
}

// Refresh 属于会话刷新任务的四个缓冲区
func (b *Board) Refresh() []*Buffer {
	return []*Buffer{b.Positions, b.Orders, b.Trackers, b.Activity}
}

// Buffer 按名称查找缓冲区
func (b *Board) Buffer(name string) (*Buffer, bool) {
	switch name {
	case Positions:
		return b.Positions, true
	case Orders:
		return b.Orders, true
	case Trackers:
		return b.Trackers, true
	case Activity:
		return b.Activity, true
	case Status:
		return b.Status, true
	}
	return nil, false
}
