package protocol

// Identity 玩家唯一标识（钱包地址），取自连接路径，不做校验
type Identity string

// Equipment 装备槽 -> 物品名；值为 nil 表示该槽为空（线上为 null）
type Equipment map[string]*string

// EquipmentSlots 检视面板展示的装备槽顺序
var EquipmentSlots = []string{"armor", "helmet", "amulet", "gloves", "ring", "weapon", "shield", "legs", "boots"}

// Item 返回槽位上的物品名，空槽返回 ok=false
func (e Equipment) Item(slot string) (string, bool) {
	v, ok := e[slot]
	if !ok || v == nil || *v == "" {
		return "", false
	}
	return *v, true
}

// Clone 深拷贝，避免快照之间共享底层 map
func (e Equipment) Clone() Equipment {
	if e == nil {
		return Equipment{}
	}
	out := make(Equipment, len(e))
	for slot, v := range e {
		if v == nil {
			out[slot] = nil
			continue
		}
		item := *v
		out[slot] = &item
	}
	return out
}

// PlayerSnapshot 某一时刻玩家的完整可见状态，由客户端产生，服务端原样转发
type PlayerSnapshot struct {
	Wallet    Identity  `json:"wallet" jsonschema:"description=Wallet address identifying the player"`
	Name      string    `json:"name"`
	Level     int       `json:"level"`
	X         int       `json:"x" jsonschema:"description=World tile column"`
	Y         int       `json:"y" jsonschema:"description=World tile row"`
	Location  string    `json:"location" jsonschema:"description=Map key the player is currently on"`
	Equipment Equipment `json:"equipment" jsonschema:"description=Slot to item name; null marks an empty slot"`
}

// Clone 返回不共享 Equipment 的副本
func (p PlayerSnapshot) Clone() PlayerSnapshot {
	p.Equipment = p.Equipment.Clone()
	return p
}
