package server

import "encoding/json"

type ClientMessage struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

type ServerMessage struct {
	Action  string      `json:"action"`
	Payload interface{} `json:"payload"`
}
