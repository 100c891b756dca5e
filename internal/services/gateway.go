package services

// Gateway is the slice of the connection hub the services talk to.
// *websocket.Hub implements it.
type Gateway interface {
	EmitToUser(userID, event string, payload interface{}) int
	EmitToUserExcept(userID, exceptConnectionID, event string, payload interface{}) int
	EmitToConnection(connectionID, event string, payload interface{}) bool
	EmitToRoom(room, event string, payload interface{}) int
	EmitToRoomExcept(room, excludeUserID, event string, payload interface{}) int
	EmitToAll(event string, payload interface{}) int

	JoinRoom(connectionID, room string) (bool, error)
	LeaveRoom(connectionID, room string) (bool, error)
	InRoom(connectionID, room string) bool

	SessionCount(userID string) int
}
