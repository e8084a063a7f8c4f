package models

// GameError is a typed, client-distinguishable failure. Retryable tells the
// client whether the same request can succeed later (e.g. the provider being
// down) versus a terminal rejection (e.g. a duplicate answer).
type GameError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *GameError) Error() string {
	return e.Message
}

var (
	ErrRoomNotFound        = &GameError{Code: "ROOM_NOT_FOUND", Message: "room not found"}
	ErrRoomFull            = &GameError{Code: "ROOM_FULL", Message: "room is full"}
	ErrInvalidRoomState    = &GameError{Code: "INVALID_ROOM_STATE", Message: "operation not allowed in current room state"}
	ErrPlayerNotInRoom     = &GameError{Code: "PLAYER_NOT_IN_ROOM", Message: "player is not in this room"}
	ErrQuestionMismatch    = &GameError{Code: "QUESTION_MISMATCH", Message: "answer does not match the current question"}
	ErrDuplicateAnswer     = &GameError{Code: "DUPLICATE_ANSWER", Message: "answer already submitted for this question"}
	ErrUnauthorized        = &GameError{Code: "UNAUTHORIZED", Message: "only the host may perform this action"}
	ErrProviderUnavailable = &GameError{Code: "PROVIDER_UNAVAILABLE", Message: "question provider unavailable", Retryable: true}
)
