// internal/websocket/utils.go
package websocket

import "encoding/json"

// DecodeData converts a message payload into target. A missing payload
// leaves target untouched.
func DecodeData(data interface{}, target interface{}) error {
	var raw []byte
	switch v := data.(type) {
	case nil:
		return nil
	case json.RawMessage:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		raw = b
	}
	return json.Unmarshal(raw, target)
}
