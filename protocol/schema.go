package protocol

import "github.com/invopop/jsonschema"

// Schemas 返回线上消息的 JSON Schema，按消息 type 索引
func Schemas() map[string]*jsonschema.Schema {
	return map[string]*jsonschema.Schema{
		TypeUpdate:  jsonschema.Reflect(&UpdateMessage{}),
		TypePlayers: jsonschema.Reflect(&PlayersMessage{}),
	}
}
