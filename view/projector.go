package view

import (
	"fmt"
	"sync"

	"kekofshadows/protocol"
)

// Character 本地玩家状态，由游戏逻辑持有
type Character struct {
	Name      string
	Level     int
	X         int
	Y         int
	Location  string
	Equipment protocol.Equipment
}

// GameLogic 外部游戏逻辑（属性、战斗、技能树、装备）
type GameLogic interface {
	Character() (Character, error)
	CreateCharacter(name, race, profession string, wallet protocol.Identity) error
	UpdatePosition(x, y int, location string) error
	FightMonster() (string, error)
	FightPlayer(wallet protocol.Identity) (string, error)
	EquipItem(id uint32) error
	UnlockSkillNode(id uint32) error
}

// UpdateSender 发送本地玩家 update，发出即返回，不等待确认
type UpdateSender interface {
	SendUpdate(msg protocol.UpdateMessage)
}

// Renderer 渲染回调；overlay 为 true 时走覆盖层渲染路径
// 在 Projector 的锁内调用，实现中不可回调 Projector
type Renderer interface {
	Render(overlay bool)
}

// Config 创建 Projector 所需的协作者
type Config struct {
	Wallet     protocol.Identity
	Game       GameLogic
	Sender     UpdateSender // 可为空，稍后 Attach
	Renderer   Renderer     // 可为空
	Projection Projection
}

// Projector 客户端视图：保存他人快照，处理点击拾取与交互
// 所有回调在同一把锁下串行执行，命中测试总是基于完整替换后的列表
type Projector struct {
	mu       sync.Mutex
	wallet   protocol.Identity
	game     GameLogic
	sender   UpdateSender
	renderer Renderer
	proj     Projection

	others    []protocol.PlayerSnapshot
	overlay   bool
	inspected *Inspection
	status    string
}

func NewProjector(cfg Config) *Projector {
	if cfg.Projection.TileSize <= 0 {
		cfg.Projection.TileSize = DefaultTileSize
	}
	return &Projector{
		wallet:   cfg.Wallet,
		game:     cfg.Game,
		sender:   cfg.Sender,
		renderer: cfg.Renderer,
		proj:     cfg.Projection,
	}
}

// Attach 设置发送端（连接建立晚于 Projector 创建时使用）
func (p *Projector) Attach(s UpdateSender) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sender = s
}

// ApplyPlayers 整体替换服务端推送的玩家列表；覆盖层未显示时重绘
func (p *Projector) ApplyPlayers(players []protocol.PlayerSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.others = players
	if !p.overlay {
		p.renderLocked()
	}
}

// Others 返回最近一次收到的玩家列表副本
func (p *Projector) Others() []protocol.PlayerSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]protocol.PlayerSnapshot, len(p.others))
	copy(out, p.others)
	return out
}

// TileAt 像素坐标换算为瓦片
func (p *Projector) TileAt(px, py float64) Tile {
	return p.proj.ScreenToTile(px, py)
}

// HitTest 找出与本地玩家同一地图、占据该瓦片的第一个其他玩家
func (p *Projector) HitTest(t Tile) (protocol.PlayerSnapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hitTestLocked(t)
}

func (p *Projector) hitTestLocked(t Tile) (protocol.PlayerSnapshot, bool) {
	me, err := p.game.Character()
	if err != nil {
		return protocol.PlayerSnapshot{}, false
	}
	for _, other := range p.others {
		if other.Wallet == p.wallet {
			continue
		}
		if other.Location != me.Location {
			continue
		}
		if abs(other.X-t.X) < 1 && abs(other.Y-t.Y) < 1 {
			return other, true
		}
	}
	return protocol.PlayerSnapshot{}, false
}

// Inspect 主操作：打开被点中玩家的检视面板
func (p *Projector) Inspect(px, py float64) (Inspection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	target, ok := p.hitTestLocked(p.proj.ScreenToTile(px, py))
	if !ok {
		return Inspection{}, false
	}
	in := NewInspection(target)
	p.inspected = &in
	p.overlay = true
	return in, true
}

// Attack 次操作：对被点中玩家发起战斗，并重发本地 update
func (p *Projector) Attack(px, py float64) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	target, ok := p.hitTestLocked(p.proj.ScreenToTile(px, py))
	if !ok {
		return "", false
	}
	result, err := p.game.FightPlayer(target.Wallet)
	if err != nil {
		p.failLocked(err)
		return p.status, true
	}
	p.status = result
	p.sendLocked()
	p.renderLocked()
	return result, true
}

// Inspected 当前检视面板内容
func (p *Projector) Inspected() (Inspection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inspected == nil {
		return Inspection{}, false
	}
	return *p.inspected, true
}

// CloseInspection 关闭检视面板并回到世界渲染
func (p *Projector) CloseInspection() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inspected = nil
	p.overlay = false
	p.renderLocked()
}

// ToggleOverlay 切换覆盖层（技能树/检视）显示
func (p *Projector) ToggleOverlay() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overlay = !p.overlay
	p.renderLocked()
	return p.overlay
}

// Overlay 覆盖层是否显示
func (p *Projector) Overlay() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overlay
}

// Status 最近一次交互结果或错误
func (p *Projector) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// CreateCharacter 创建角色并广播初始位置
func (p *Projector) CreateCharacter(name, race, profession string) error {
	return p.mutate(func() error {
		return p.game.CreateCharacter(name, race, profession, p.wallet)
	})
}

// Move 按方向移动一格
func (p *Projector) Move(dx, dy int) error {
	return p.mutate(func() error {
		me, err := p.game.Character()
		if err != nil {
			return err
		}
		return p.game.UpdatePosition(me.X+dx, me.Y+dy, me.Location)
	})
}

// Travel 切换到另一张地图，保持坐标
func (p *Projector) Travel(location string) error {
	return p.mutate(func() error {
		me, err := p.game.Character()
		if err != nil {
			return err
		}
		return p.game.UpdatePosition(me.X, me.Y, location)
	})
}

// Explore 与怪物战斗
func (p *Projector) Explore() error {
	return p.mutate(func() error {
		result, err := p.game.FightMonster()
		if err != nil {
			return err
		}
		p.status = result
		return nil
	})
}

func (p *Projector) EquipItem(id uint32) error {
	return p.mutate(func() error { return p.game.EquipItem(id) })
}

func (p *Projector) UnlockSkillNode(id uint32) error {
	return p.mutate(func() error { return p.game.UnlockSkillNode(id) })
}

// SendUpdate 以本地角色当前状态构造并发送 update
func (p *Projector) SendUpdate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendLocked()
}

// mutate 执行一次本地状态变更；失败写入状态栏，成功则重绘并上报
func (p *Projector) mutate(fn func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := fn(); err != nil {
		p.failLocked(err)
		return err
	}
	p.renderLocked()
	p.sendLocked()
	return nil
}

func (p *Projector) failLocked(err error) {
	p.status = fmt.Sprintf("Error: %v", err)
}

func (p *Projector) sendLocked() {
	if p.sender == nil {
		return
	}
	me, err := p.game.Character()
	if err != nil {
		p.failLocked(err)
		return
	}
	p.sender.SendUpdate(protocol.NewUpdate(protocol.PlayerSnapshot{
		Wallet:    p.wallet,
		Name:      me.Name,
		Level:     me.Level,
		X:         me.X,
		Y:         me.Y,
		Location:  me.Location,
		Equipment: me.Equipment.Clone(),
	}))
}

func (p *Projector) renderLocked() {
	if p.renderer != nil {
		p.renderer.Render(p.overlay)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
