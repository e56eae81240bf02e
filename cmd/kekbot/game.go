package main

import (
	"errors"
	"fmt"

	"kekofshadows/protocol"
	"kekofshadows/server"
	"kekofshadows/view"
)

var errUnsupported = errors.New("not supported by the headless client")

// localGame 仅维护位置的本地游戏逻辑；战斗与成长不在 bot 内模拟
type localGame struct {
	me view.Character
}

func (g *localGame) Character() (view.Character, error) { return g.me, nil }

func (g *localGame) CreateCharacter(name, race, profession string, wallet protocol.Identity) error {
	g.me = view.Character{Name: name, Level: 1, Location: "Town", Equipment: protocol.Equipment{}}
	return nil
}

func (g *localGame) UpdatePosition(x, y int, location string) error {
	g.me.X, g.me.Y, g.me.Location = x, y, location
	return nil
}

func (g *localGame) FightMonster() (string, error) { return "", errUnsupported }

func (g *localGame) FightPlayer(wallet protocol.Identity) (string, error) {
	return fmt.Sprintf("Waved at %s", wallet), nil
}

func (g *localGame) EquipItem(id uint32) error       { return errUnsupported }
func (g *localGame) UnlockSkillNode(id uint32) error { return errUnsupported }

// renderer 无画布，只记录重绘
type renderer struct{}

func (renderer) Render(overlay bool) {
	server.Log.Debugf("render (overlay=%v)", overlay)
}
