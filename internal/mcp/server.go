package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/skalibog/bybit-mcp/internal/config"
	"github.com/skalibog/bybit-mcp/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Server сервер инструментов на построчном JSON-RPC
type Server struct {
	registry *Registry
	config   config.ServerConfig
	inflight *semaphore.Weighted

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewServer создает сервер
func NewServer(cfg config.ServerConfig, registry *Registry) *Server {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 16
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 4 << 20
	}
	return &Server{
		registry: registry,
		config:   cfg,
		inflight: semaphore.NewWeighted(int64(cfg.MaxInFlight)),
	}
}

// Registry возвращает реестр инструментов
func (s *Server) Registry() *Registry { return s.registry }

// Serve читает запросы из r и пишет ответы в w. Каждый вызов инструмента
// выполняется в своей горутине, ответы пишутся в порядке завершения.
// Конец потока ввода завершает работу после ожидания начатых вызовов.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	lines := make(chan frame)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		br := bufio.NewReaderSize(r, 64*1024)
		for {
			f, err := readFrame(br, s.config.MaxLineBytes)
			if f.oversized || len(f.line) > 0 {
				select {
				case lines <- f:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				readErr <- err
				return
			}
		}
	}()

	logger.Info("Сервер инструментов запущен",
		zap.String("name", s.config.Name),
		zap.Int("tools", s.registry.Len()),
		zap.Int("max_in_flight", s.config.MaxInFlight))

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				s.wg.Wait()
				var err error
				select {
				case err = <-readErr:
				default:
				}
				logger.Info("Поток ввода закрыт, сервер остановлен")
				return err
			}
			if line.oversized {
				logger.Warn("Сообщение превышает лимит строки", zap.Int("max_line_bytes", s.config.MaxLineBytes))
				s.write(enc, Response{JSONRPC: "2.0", ID: json.RawMessage("null"),
					Error: &RPCError{Code: CodeParseError, Message: "сообщение превышает лимит строки"}})
				continue
			}
			s.handleLine(ctx, enc, line.line)
		}
	}
}

func (s *Server) handleLine(ctx context.Context, enc *json.Encoder, line []byte) {
	if len(bytesTrim(line)) == 0 {
		return
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		logger.Warn("Некорректное сообщение", zap.Error(err))
		s.write(enc, Response{JSONRPC: "2.0", ID: json.RawMessage("null"),
			Error: &RPCError{Code: CodeParseError, Message: "ошибка разбора JSON: " + err.Error()}})
		return
	}

	switch req.Method {
	case MethodCallTool, MethodCallToolShort:
		if err := s.inflight.Acquire(ctx, 1); err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.inflight.Release(1)
			s.reply(enc, req, s.callTool(ctx, req))
		}()
	default:
		s.reply(enc, req, s.dispatch(req))
	}
}

// dispatch обрабатывает служебные методы
func (s *Server) dispatch(req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}
	switch req.Method {
	case MethodInitialize:
		resp.Result = initializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      serverInfo{Name: s.config.Name, Version: s.config.Version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		}
	case MethodInitialized:
		// уведомление, ответ не требуется
	case MethodPing:
		resp.Result = struct{}{}
	case MethodListTools:
		tools := s.registry.List()
		out := make([]Descriptor, 0, len(tools))
		for _, t := range tools {
			out = append(out, Descriptor{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
		}
		resp.Result = map[string]any{"tools": out}
	case MethodListToolsShort:
		tools := s.registry.List()
		out := make([]LegacyDescriptor, 0, len(tools))
		for _, t := range tools {
			out = append(out, LegacyDescriptor{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
		}
		resp.Result = map[string]any{"tools": out}
	default:
		resp.Error = &RPCError{Code: CodeMethodNotFound, Message: "метод не найден: " + req.Method}
	}
	return resp
}

func (s *Server) callTool(ctx context.Context, req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	var params CallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		msg := "не указано имя инструмента"
		if err != nil {
			msg = "неверные параметры вызова: " + err.Error()
		}
		resp.Error = &RPCError{Code: CodeInvalidParams, Message: msg}
		return resp
	}

	start := time.Now()
	result := s.registry.Call(ctx, params.Name, params.Arguments)
	if result.IsError {
		logger.Warn("Инструмент завершился ошибкой",
			zap.String("tool", params.Name),
			zap.String("result", result.Content[0].Text))
	}
	logger.Debug("Вызов инструмента",
		zap.String("tool", params.Name),
		zap.Duration("duration", time.Since(start)),
		zap.Bool("error", result.IsError))

	if !s.config.ErrorsAsFlags {
		result.IsError = false
	}
	resp.Result = result
	return resp
}

func (s *Server) reply(enc *json.Encoder, req Request, resp Response) {
	if req.IsNotification() {
		return
	}
	s.write(enc, resp)
}

func (s *Server) write(enc *json.Encoder, resp Response) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := enc.Encode(resp); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		logger.Error("Ошибка записи ответа", zap.Error(err))
	}
}

// frame одна строка ввода; строка длиннее лимита отбрасывается целиком
type frame struct {
	line      []byte
	oversized bool
}

// readFrame читает строку до '\n'. Остаток слишком длинной строки
// вычитывается без накопления, чтобы следующая строка читалась с начала.
func readFrame(br *bufio.Reader, limit int) (frame, error) {
	var f frame
	for {
		chunk, err := br.ReadSlice('\n')
		if !f.oversized {
			f.line = append(f.line, chunk...)
			if len(f.line) > limit+1 {
				f.line, f.oversized = nil, true
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if n := len(f.line); n > 0 && f.line[n-1] == '\n' {
			f.line = f.line[:n-1]
		}
		if len(f.line) > limit {
			f.line, f.oversized = nil, true
		}
		return f, err
	}
}

func bytesTrim(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t' || b[0] == '\r') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
