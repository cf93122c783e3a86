package dto

import "github.com/EternisAI/clawd-node/internal/journal"

type NodeStatusResponse struct {
	State           string   `json:"state"`
	Connected       bool     `json:"connected"`
	SessionID       string   `json:"session_id,omitempty"`
	NodeID          string   `json:"node_id"`
	PendingRequests int      `json:"pending_requests"`
	Commands        []string `json:"commands"`
}

type InvocationsResponse struct {
	Invocations []journal.Entry `json:"invocations"`
	Count       int             `json:"count"`
}

type CommandErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
