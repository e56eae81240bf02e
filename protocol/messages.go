package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	TypeUpdate  = "update"
	TypePlayers = "players"
)

var (
	ErrMalformed        = errors.New("malformed message")
	ErrUnexpectedType   = errors.New("unexpected message type")
	ErrMissingField     = errors.New("missing required field")
	ErrIdentityMismatch = errors.New("wallet does not match connection identity")
)

// UpdateMessage 客户端上报自身状态
// 示例：{"type":"update","wallet":"A","name":"n","level":1,"x":0,"y":0,"location":"Town","equipment":{}}
type UpdateMessage struct {
	Type string `json:"type" jsonschema:"enum=update"`
	PlayerSnapshot
}

// PlayersMessage 服务端广播的全量玩家列表
type PlayersMessage struct {
	Type    string           `json:"type" jsonschema:"enum=players"`
	Players []PlayerSnapshot `json:"players"`
}

// NewUpdate 由快照构造上行消息
func NewUpdate(p PlayerSnapshot) UpdateMessage {
	return UpdateMessage{Type: TypeUpdate, PlayerSnapshot: p}
}

// Encode 编码上行帧；空装备编码为 {}
func (m UpdateMessage) Encode() ([]byte, error) {
	m.Type = TypeUpdate
	if m.Equipment == nil {
		m.Equipment = Equipment{}
	}
	return json.Marshal(m)
}

// 入站 update 的宽松解码结构，用指针区分“缺失”与“零值”
type rawUpdate struct {
	Type      string    `json:"type"`
	Wallet    *Identity `json:"wallet"`
	Name      string    `json:"name"`
	Level     int       `json:"level"`
	X         *int      `json:"x"`
	Y         *int      `json:"y"`
	Location  *string   `json:"location"`
	Equipment Equipment `json:"equipment"`
}

// DecodeUpdate 解析一条入站文本帧为快照
// wallet 缺省时取连接身份；与连接身份不一致则拒绝
func DecodeUpdate(payload []byte, conn Identity) (PlayerSnapshot, error) {
	var raw rawUpdate
	if err := json.Unmarshal(payload, &raw); err != nil {
		return PlayerSnapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !strings.EqualFold(raw.Type, TypeUpdate) {
		return PlayerSnapshot{}, fmt.Errorf("%w: %q", ErrUnexpectedType, raw.Type)
	}
	switch {
	case raw.X == nil:
		return PlayerSnapshot{}, fmt.Errorf("%w: x", ErrMissingField)
	case raw.Y == nil:
		return PlayerSnapshot{}, fmt.Errorf("%w: y", ErrMissingField)
	case raw.Location == nil:
		return PlayerSnapshot{}, fmt.Errorf("%w: location", ErrMissingField)
	}

	wallet := conn
	if raw.Wallet != nil && *raw.Wallet != "" {
		wallet = *raw.Wallet
	}
	if wallet != conn {
		return PlayerSnapshot{}, fmt.Errorf("%w: got %q, connection is %q", ErrIdentityMismatch, wallet, conn)
	}
	equipment := raw.Equipment
	if equipment == nil {
		equipment = Equipment{}
	}
	return PlayerSnapshot{
		Wallet:    wallet,
		Name:      raw.Name,
		Level:     raw.Level,
		X:         *raw.X,
		Y:         *raw.Y,
		Location:  *raw.Location,
		Equipment: equipment,
	}, nil
}

// EncodePlayers 编码广播帧；空列表编码为 []
func EncodePlayers(players []PlayerSnapshot) ([]byte, error) {
	if players == nil {
		players = []PlayerSnapshot{}
	}
	return json.Marshal(PlayersMessage{Type: TypePlayers, Players: players})
}

// DecodePlayers 客户端侧解析广播帧
func DecodePlayers(payload []byte) ([]PlayerSnapshot, error) {
	var msg PlayersMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Type != TypePlayers {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedType, msg.Type)
	}
	if msg.Players == nil {
		msg.Players = []PlayerSnapshot{}
	}
	return msg.Players, nil
}
