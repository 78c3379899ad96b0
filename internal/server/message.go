package server

// Command represents an incoming JSON command from a WebSocket client.
type Command struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// Message represents an outgoing JSON message sent to WebSocket clients.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Outgoing message types.
const (
	MsgDeviceState   = "device_state"
	MsgRoutineList   = "routine_list"
	MsgRoutineStatus = "routine_status"
	MsgRoutineCode   = "routine_code"
	MsgScheduleList  = "schedule_list"
	MsgError         = "error"
)

// NewMessage creates a new structured Message for broadcasting to clients.
func NewMessage(msgType string, payload interface{}) Message {
	return Message{Type: msgType, Payload: payload}
}
