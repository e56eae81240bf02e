package view

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"kekofshadows/protocol"
)

// SlotLine 检视面板中的一行装备
type SlotLine struct {
	Slot string
	Item string
}

// Inspection 他人信息的只读视图
type Inspection struct {
	Wallet protocol.Identity
	Name   string
	Level  int
	Slots  []SlotLine
}

// NewInspection 按固定槽位顺序生成检视内容，空槽显示 None
func NewInspection(p protocol.PlayerSnapshot) Inspection {
	// Caser 有状态，不可跨协程共享
	title := cases.Title(language.English)
	slots := make([]SlotLine, 0, len(protocol.EquipmentSlots))
	for _, slot := range protocol.EquipmentSlots {
		item, ok := p.Equipment.Item(slot)
		if !ok {
			item = "None"
		}
		slots = append(slots, SlotLine{Slot: title.String(slot), Item: item})
	}
	return Inspection{Wallet: p.Wallet, Name: p.Name, Level: p.Level, Slots: slots}
}

func (i Inspection) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\nLevel: %d\n", i.Name, i.Level)
	for _, s := range i.Slots {
		fmt.Fprintf(&b, "%s: %s\n", s.Slot, s.Item)
	}
	return b.String()
}
