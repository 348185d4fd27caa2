package signal

import "github.com/dkeye/VoiceDesk/internal/domain"

func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(conn, resp)
}

func (ctl *SignalWSController) handleWhoAmI(
	party domain.PartyID,
	conn *WsSignalConn,
) {
	resp := struct {
		Type  string         `json:"type"`
		Party domain.PartyID `json:"party"`
	}{
		Type:  "whoami",
		Party: party,
	}
	ctl.sendJSON(conn, resp)
}

func (ctl *SignalWSController) sendError(conn *WsSignalConn, code string) {
	ctl.sendJSON(conn, map[string]any{
		"type":  "error",
		"error": code,
	})
}
