// Package protocol defines the line-oriented wire protocol: newline-delimited
// UTF-8 frames, the PREFIX:payload control-message convention and the mode
// tokens of the initial exchange.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Mode tokens sent by the client as the first frame of a connection.
const (
	ModeLogin         = "l"
	ModeRegister      = "r"
	ModeRecoverLookup = "rec_req"
	ModeRecoverReset  = "rec_reset"
)

// Control-message prefixes. Each control message is one frame.
const (
	PrefixRoomsUpdate  = "ROOMS_UPDATE:"
	PrefixPinUpdate    = "PIN_UPDATE:"
	PrefixHistoryBatch = "HISTORY_BATCH:"
	PrefixUsersList    = "USERS_LIST:"
	PrefixQuestion     = "PREGUNTA:"
)

// Literal replies of the field-by-field exchanges.
const (
	Ack           = "ACK"
	ResultSuccess = "EXITO"
	ResultError   = "ERROR"
)

// CommandPrefix marks client input routed to the command processor.
const CommandPrefix = "/"

// HistoryBatch is the payload of a HISTORY_BATCH control message: a room's
// full retained log delivered as one unit so the client can distinguish it
// from live chat.
type HistoryBatch struct {
	Room     string   `json:"room"`
	Messages []string `json:"mensajes"`
	Total    int      `json:"total"`
}

// EncodeHistoryBatch builds the HISTORY_BATCH frame for a room snapshot.
func EncodeHistoryBatch(room string, messages []string) (string, error) {
	if messages == nil {
		messages = []string{}
	}
	data, err := json.Marshal(HistoryBatch{Room: room, Messages: messages, Total: len(messages)})
	if err != nil {
		return "", fmt.Errorf("failed to encode history batch: %w", err)
	}
	return PrefixHistoryBatch + string(data), nil
}

// EncodeRoomsUpdate builds the ROOMS_UPDATE frame with the room-name list.
func EncodeRoomsUpdate(rooms []string) (string, error) {
	if rooms == nil {
		rooms = []string{}
	}
	data, err := json.Marshal(rooms)
	if err != nil {
		return "", fmt.Errorf("failed to encode room list: %w", err)
	}
	return PrefixRoomsUpdate + string(data), nil
}

// EncodeUsersList builds the USERS_LIST frame with the per-room alias lists.
func EncodeUsersList(byRoom map[string][]string) (string, error) {
	if byRoom == nil {
		byRoom = map[string][]string{}
	}
	data, err := json.Marshal(byRoom)
	if err != nil {
		return "", fmt.Errorf("failed to encode users list: %w", err)
	}
	return PrefixUsersList + string(data), nil
}

// EncodePinUpdate builds the PIN_UPDATE frame; an empty pin means "no pin".
func EncodePinUpdate(pin string) string {
	return PrefixPinUpdate + pin
}

// EscapePayload folds embedded line breaks so a logical message always stays
// one frame on the wire.
func EscapePayload(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\\n")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return strings.ReplaceAll(s, "\r", "\\n")
}
