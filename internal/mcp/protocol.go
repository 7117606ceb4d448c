// Package mcp реализует сервер инструментов поверх построчного JSON-RPC 2.0
// на стандартных потоках: реестр инструментов, схемы аргументов, декодирование
// с проверкой и единый конверт результата и ошибки.
package mcp

import (
	"encoding/json"
)

// ProtocolVersion версия протокола, сообщаемая в initialize
const ProtocolVersion = "2024-11-05"

// Методы протокола
const (
	MethodInitialize     = "initialize"
	MethodInitialized    = "notifications/initialized"
	MethodPing           = "ping"
	MethodListTools      = "tools/list"
	MethodListToolsShort = "list_tools"
	MethodCallTool       = "tools/call"
	MethodCallToolShort  = "call_tool"
)

// Коды ошибок JSON-RPC
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request входящее сообщение. Без id это уведомление, ответ на него не отправляется.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification сообщает, что ответ не нужен
func (r Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Response ответ сервера
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError ошибка уровня протокола
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CallParams параметры вызова инструмента
type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Content элемент содержимого результата
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult результат вызова инструмента
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Failure полезная нагрузка ошибки обработчика
type Failure struct {
	Error string `json:"error"`
	Tool  string `json:"tool"`
}

// Descriptor описание инструмента в ответе tools/list
type Descriptor struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	InputSchema *Schema `json:"inputSchema"`
}

// LegacyDescriptor описание инструмента в ответе list_tools
type LegacyDescriptor struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	InputSchema *Schema `json:"input_schema"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      serverInfo     `json:"serverInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

// textResult сериализует полезную нагрузку в единственный текстовый элемент
func textResult(payload any, isError bool) ToolResult {
	data, err := json.Marshal(payload)
	if err != nil {
		data, _ = json.Marshal(Failure{Error: "ошибка сериализации результата: " + err.Error()})
		isError = true
	}
	return ToolResult{
		Content: []Content{{Type: "text", Text: string(data)}},
		IsError: isError,
	}
}
